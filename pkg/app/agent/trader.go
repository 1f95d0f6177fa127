package agent

import (
	"fmt"
	"sync"

	"github.com/uhyunpark/asyncexchange/pkg/app/core/account"
	"github.com/uhyunpark/asyncexchange/pkg/app/core/orderbook"
)

// Trader pairs a ledger with the exchange handle it was registered with.
// Strategies embed it to trade.
type Trader struct {
	acc *account.Account

	mu  sync.RWMutex
	api orderbook.API
}

func NewTrader(acc *account.Account) *Trader {
	return &Trader{acc: acc}
}

func (t *Trader) Account() *account.Account { return t.acc }
func (t *Trader) ID() account.ID            { return t.acc.ID() }
func (t *Trader) Money() int64              { return t.acc.Money() }
func (t *Trader) Stocks() int64             { return t.acc.Stocks() }

// BindExchange is called by Exchange.RegisterTrader.
func (t *Trader) BindExchange(api orderbook.API) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.api = api
}

// Exchange returns the bound handle; it panics for an unregistered trader.
func (t *Trader) Exchange() orderbook.API {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.api == nil {
		panic(fmt.Sprintf("agent: trader %d is not registered with an exchange", t.acc.ID()))
	}
	return t.api
}

// Buy submits a buy order and returns its id, or 0 if it was dropped.
func (t *Trader) Buy(amount, price int64) orderbook.OrderID {
	return t.Exchange().Submit(orderbook.Order{Side: orderbook.Buy, Price: price, Amount: amount})
}

// Sell submits a sell order and returns its id, or 0 if it was dropped.
func (t *Trader) Sell(amount, price int64) orderbook.OrderID {
	return t.Exchange().Submit(orderbook.Order{Side: orderbook.Sell, Price: price, Amount: amount})
}

func (t *Trader) CancelOrder(id orderbook.OrderID) bool {
	return t.Exchange().Cancel(id)
}

// CancelAllOrders cancels every standing order and reports whether all of
// them were removed. An order filled between listing and cancelling counts
// as not removed.
func (t *Trader) CancelAllOrders() bool {
	api := t.Exchange()
	buys, sells := api.StandingOrders()
	ok := true
	for _, o := range append(buys, sells...) {
		if !api.Cancel(o.ID) {
			ok = false
		}
	}
	return ok
}

func (t *Trader) StandingOrders() (buys, sells []orderbook.Order) {
	return t.Exchange().StandingOrders()
}

// InspectExchange returns the aggregated book depth.
func (t *Trader) InspectExchange() (buy, sell orderbook.Depth) {
	return t.Exchange().OrderBook()
}

func (t *Trader) String() string {
	money, stocks := t.acc.Balances()
	return fmt.Sprintf("Trader %d: stocks %d, cash %d", t.acc.ID(), stocks, money)
}

var _ orderbook.Registrant = (*Trader)(nil)
