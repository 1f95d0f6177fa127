package agent

import (
	"context"
	"math"
	"time"

	"github.com/uhyunpark/asyncexchange/pkg/app/core/account"
	"github.com/uhyunpark/asyncexchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/asyncexchange/pkg/util"
)

// RandomTrader places one random limit order after each random pause.
//
// Prices scatter around the book's mid price by up to its square root; with
// an empty book it trades at DefaultPrice.
type RandomTrader struct {
	*Trader
	runtime

	maxSleep time.Duration
}

func NewRandomTrader(acc *account.Account, maxSleep time.Duration, opts ...Option) *RandomTrader {
	return &RandomTrader{
		Trader:   NewTrader(acc),
		runtime:  newRuntime(opts),
		maxSleep: maxSleep,
	}
}

// Run loops until ctx is done and returns ctx.Err().
func (r *RandomTrader) Run(ctx context.Context) error {
	for {
		pause := time.Duration(r.rng.Float64() * float64(r.maxSleep))
		if err := util.Sleep(ctx, r.clock, pause); err != nil {
			return err
		}
		r.PlaceRandomOrder()
	}
}

// PlaceRandomOrder picks a side, price and size and submits the order.
// It returns 0 when the trader cannot afford any order or the order was
// dropped.
func (r *RandomTrader) PlaceRandomOrder() orderbook.OrderID {
	side := orderbook.Buy
	if r.rng.IntN(2) == 1 {
		side = orderbook.Sell
	}

	bid, ask, ok := bestPrices(r.InspectExchange())
	if !ok {
		maxAmount := r.Money() / DefaultPrice
		if maxAmount <= 0 {
			return 0
		}
		return r.submit(side, DefaultPrice, 1+r.rng.Int64N(maxAmount))
	}

	mid := (bid + ask) / 2
	deviation := int64(math.Sqrt(float64(mid)))
	price := max(mid+r.rng.Int64N(2*deviation+1)-deviation, 1)

	var maxAmount int64
	switch side {
	case orderbook.Buy:
		maxAmount = r.Money() / price
	case orderbook.Sell:
		maxAmount = r.Stocks()
	}
	if maxAmount <= 0 {
		return 0
	}
	return r.submit(side, price, 1+r.rng.Int64N(maxAmount))
}

func (r *RandomTrader) submit(side orderbook.Side, price, amount int64) orderbook.OrderID {
	r.log.Debugw("order_intent", "trader", r.ID(), "side", side, "amount", amount, "price", price)
	if side == orderbook.Buy {
		return r.Buy(amount, price)
	}
	return r.Sell(amount, price)
}
