package agent

import (
	"context"
	"time"

	"github.com/uhyunpark/asyncexchange/pkg/app/core/account"
	"github.com/uhyunpark/asyncexchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/asyncexchange/pkg/util"
)

// MarketMaker keeps one bid and one ask around the mid price, replacing both
// on every tick.
type MarketMaker struct {
	*Trader
	runtime

	interval time.Duration
	spread   int64
	maxSize  int64
}

type MarketMakerConfig struct {
	Interval time.Duration // requote period
	Spread   int64         // distance of each quote from mid, at least 1
	MaxSize  int64         // upper bound on each quote's amount
}

func DefaultMarketMakerConfig() MarketMakerConfig {
	return MarketMakerConfig{
		Interval: time.Second,
		Spread:   1,
		MaxSize:  5,
	}
}

func NewMarketMaker(acc *account.Account, cfg MarketMakerConfig, opts ...Option) *MarketMaker {
	return &MarketMaker{
		Trader:   NewTrader(acc),
		runtime:  newRuntime(opts),
		interval: cfg.Interval,
		spread:   max(cfg.Spread, 1),
		maxSize:  max(cfg.MaxSize, 1),
	}
}

// Run requotes every interval until ctx is done and returns ctx.Err().
func (m *MarketMaker) Run(ctx context.Context) error {
	for {
		if err := util.Sleep(ctx, m.clock, m.interval); err != nil {
			return err
		}
		m.Requote()
	}
}

// Requote pulls the maker's standing orders and places a fresh bid and ask.
// Quotes the ledger cannot back are skipped and reported as 0.
func (m *MarketMaker) Requote() (bidID, askID orderbook.OrderID) {
	if !m.CancelAllOrders() {
		m.log.Debugw("requote_partial_cancel", "trader", m.ID())
	}

	mid := DefaultPrice
	if bid, ask, ok := bestPrices(m.InspectExchange()); ok {
		mid = (bid + ask) / 2
	}

	bidPrice := max(mid-m.spread, 1)
	askPrice := mid + m.spread

	if size := min(m.maxSize, m.Money()/bidPrice); size > 0 {
		bidID = m.Buy(size, bidPrice)
	}
	if size := min(m.maxSize, m.Stocks()); size > 0 {
		askID = m.Sell(size, askPrice)
	}
	m.log.Debugw("requoted", "trader", m.ID(), "bid", bidPrice, "ask", askPrice)
	return bidID, askID
}
