package orderbook

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/asyncexchange/pkg/app/core/account"
	"github.com/uhyunpark/asyncexchange/pkg/app/core/sequence"
	"github.com/uhyunpark/asyncexchange/pkg/telemetry"
)

// Trade is one executed match.
type Trade struct {
	BuyOrder  OrderID
	SellOrder OrderID
	Buyer     account.ID
	Seller    account.ID
	Price     int64
	Amount    int64
	TakerSide Side
}

func (t Trade) fields() telemetry.Fields {
	return telemetry.Fields{
		"price":      t.Price,
		"amount":     t.Amount,
		"buyer":      uint64(t.Buyer),
		"seller":     uint64(t.Seller),
		"buy_order":  uint64(t.BuyOrder),
		"sell_order": uint64(t.SellOrder),
		"taker_side": t.TakerSide.String(),
	}
}

// Registrant is anything that owns a ledger and can hold an exchange handle.
type Registrant interface {
	Account() *account.Account
	BindExchange(api API)
}

// Option configures an Exchange.
type Option func(*Exchange)

// WithIDs sets the order id generator.
func WithIDs(ids sequence.Generator) Option {
	return func(ex *Exchange) { ex.ids = ids }
}

// WithSink sets where trade events go.
func WithSink(sink telemetry.Sink) Option {
	return func(ex *Exchange) { ex.sink = sink }
}

// WithLogger sets the exchange logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(ex *Exchange) { ex.log = log }
}

// Exchange is the matching engine: an OrderBook plus the settlement of
// matched trades against the traders' ledgers.
//
// A single mutex is held for the whole of every submit, cancel and query, so
// a match (including its shortfall retries) is never observed half done and
// a cancel racing a fill is decided by whichever takes the lock first.
type Exchange struct {
	mu   sync.Mutex
	book *OrderBook

	ids  sequence.Generator
	sink telemetry.Sink
	log  *zap.SugaredLogger

	traders   []*account.Account
	lastPrice int64
	trades    uint64

	closeOnce sync.Once
	closeErr  error
}

func NewExchange(opts ...Option) *Exchange {
	ex := &Exchange{
		book: NewOrderBook(),
		ids:  sequence.New(0),
		sink: telemetry.Nop{},
		log:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(ex)
	}
	return ex
}

// RegisterTrader binds a capability handle for r's ledger and hands it to r.
// Balances are not touched.
func (ex *Exchange) RegisterTrader(r Registrant) API {
	acc := r.Account()
	if acc == nil {
		panic("orderbook: registering trader without account")
	}

	ex.mu.Lock()
	ex.traders = append(ex.traders, acc)
	ex.mu.Unlock()

	h := &handle{ex: ex, owner: acc}
	r.BindExchange(h)
	ex.log.Debugw("trader_registered", "trader", acc.ID())
	return h
}

// Traders returns every registered ledger in registration order.
func (ex *Exchange) Traders() []*account.Account {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	out := make([]*account.Account, len(ex.traders))
	copy(out, ex.traders)
	return out
}

// Submit accepts o, matches it against the book and rests any remainder.
//
// Orders with a non-positive amount or price, or without an owner, are
// dropped silently and Submit returns 0. Otherwise the returned id is the
// one assigned to the order; it stays valid for Cancel while the order rests.
func (ex *Exchange) Submit(o Order) OrderID {
	if o.Amount <= 0 || o.Price <= 0 || o.Owner == nil {
		return 0
	}
	if o.Side != Buy && o.Side != Sell {
		return 0
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	o.ID = OrderID(ex.ids.Next())
	taker := &o
	ex.match(taker)
	return o.ID
}

// match runs the taker against the opposite side until it is filled, can no
// longer cross, or has been shrunk to nothing by shortfall adjustment.
//
// Every pass either executes a trade of at least one unit or strictly lowers
// the amount of one of the two orders involved, so the loop terminates.
// After a shortfall the best opposing level is looked up again.
func (ex *Exchange) match(taker *Order) {
	opposite := taker.Side.Opposite()
	for taker.Amount > 0 {
		lvl, ok := ex.book.best(opposite)
		if !ok || !taker.crosses(lvl.price) {
			ex.book.rest(taker)
			ex.log.Debugw("order_resting", "order", taker.ID, "side", taker.Side, "price", taker.Price, "amount", taker.Amount)
			return
		}

		maker := lvl.front()
		buy, sell := taker, maker
		if taker.Side == Sell {
			buy, sell = maker, taker
		}
		ex.settle(buy, sell, maker.Price, taker.Side)

		if maker.Amount == 0 {
			ex.book.popFront(opposite, lvl)
		}
	}
}

// settle executes one trade between the buy and sell orders at price, or
// shrinks whichever order cannot be honoured.
func (ex *Exchange) settle(buy, sell *Order, price int64, takerSide Side) {
	qty := min(buy.Amount, sell.Amount)
	var err error
	if qty > math.MaxInt64/price {
		// no balance can cover a notional past int64
		err = fmt.Errorf("trade %d@%d overflows: %w", qty, price, account.ErrInsufficientFunds)
	} else {
		err = account.Transfer(buy.Owner, sell.Owner, qty, qty*price)
	}

	switch {
	case err == nil:
		buy.Amount -= qty
		sell.Amount -= qty
		ex.lastPrice = price
		ex.trades++

		t := Trade{
			BuyOrder:  buy.ID,
			SellOrder: sell.ID,
			Buyer:     buy.Owner.ID(),
			Seller:    sell.Owner.ID(),
			Price:     price,
			Amount:    qty,
			TakerSide: takerSide,
		}
		ex.sink.SendEvent(telemetry.MeasurementExchange, t.fields())
		ex.log.Debugw("trade_executed", "price", price, "amount", qty, "buyer", t.Buyer, "seller", t.Seller)

	case errors.Is(err, account.ErrInsufficientFunds):
		affordable := buy.Owner.Money() / price
		ex.log.Debugw("shortfall_adjusted", "reason", "funds", "order", buy.ID, "from", buy.Amount, "to", affordable)
		buy.Amount = affordable

	case errors.Is(err, account.ErrInsufficientStocks):
		available := sell.Owner.Stocks()
		ex.log.Debugw("shortfall_adjusted", "reason", "stocks", "order", sell.ID, "from", sell.Amount, "to", available)
		sell.Amount = available

	default:
		panic(fmt.Errorf("orderbook: settle %d@%d: %w", qty, price, err))
	}
}

// Cancel removes a resting order by id. It reports false if no such order
// is resting, including when it was already filled or cancelled.
func (ex *Exchange) Cancel(id OrderID) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	_, ok := ex.book.remove(id)
	return ok
}

// cancelOwned removes a resting order only if owner holds it.
func (ex *Exchange) cancelOwned(owner *account.Account, id OrderID) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	o, _, ok := ex.book.lookup(id)
	if !ok || o.Owner != owner {
		return false
	}
	_, ok = ex.book.remove(id)
	return ok
}

// StandingOrders returns owner's resting orders per side, best price first.
func (ex *Exchange) StandingOrders(owner *account.Account) (buys, sells []Order) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.book.ordersOf(owner, Buy), ex.book.ordersOf(owner, Sell)
}

// OrderBook returns the aggregated depth of both sides.
func (ex *Exchange) OrderBook() (buy, sell Depth) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.book.depth(Buy), ex.book.depth(Sell)
}

// Levels returns sorted depth for both sides, best price first.
func (ex *Exchange) Levels() (bids, asks []PriceLevel) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.book.levels(Buy), ex.book.levels(Sell)
}

// BestBid returns the highest resting buy price.
func (ex *Exchange) BestBid() (int64, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.bestPrice(Buy)
}

// BestAsk returns the lowest resting sell price.
func (ex *Exchange) BestAsk() (int64, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.bestPrice(Sell)
}

// MidPrice returns the average of best bid and best ask, or false when the
// book is one-sided or empty.
func (ex *Exchange) MidPrice() (int64, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	bid, okBid := ex.bestPrice(Buy)
	ask, okAsk := ex.bestPrice(Sell)
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// LastPrice returns the price of the most recent trade, 0 before any.
func (ex *Exchange) LastPrice() int64 {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.lastPrice
}

// TradeCount returns how many trades have executed.
func (ex *Exchange) TradeCount() uint64 {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.trades
}

func (ex *Exchange) bestPrice(s Side) (int64, bool) {
	lvl, ok := ex.book.best(s)
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// Shutdown releases exchange resources and flushes the telemetry sink.
// The book stays usable; calling Shutdown again returns the first result.
//
// If ctx expires first, Shutdown returns without waiting for the sink. The
// flush keeps running in the background and its outcome is logged when it
// completes.
func (ex *Exchange) Shutdown(ctx context.Context) error {
	ex.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- ex.sink.Close() }()

		select {
		case err := <-done:
			ex.closeErr = err
		case <-ctx.Done():
			ex.closeErr = fmt.Errorf("flush telemetry: %w", ctx.Err())
			go func() {
				err := <-done
				ex.log.Warnw("telemetry_flush_late", "err", err)
			}()
		}
		ex.log.Infow("exchange_shutdown", "trades", ex.TradeCount(), "resting_orders", ex.restingOrders(), "err", ex.closeErr)
	})
	return ex.closeErr
}

func (ex *Exchange) restingOrders() int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.book.Len()
}
