package agent

import (
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/uhyunpark/asyncexchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/asyncexchange/pkg/util"
)

// DefaultPrice is quoted when the book gives no reference price.
const DefaultPrice int64 = 10

type Option func(*runtime)

// runtime holds what a strategy needs besides its ledger.
type runtime struct {
	clock util.Clock
	rng   *rand.Rand
	log   *zap.SugaredLogger
}

func WithClock(c util.Clock) Option {
	return func(r *runtime) { r.clock = c }
}

// WithRand fixes the random source, e.g. for reproducible runs.
func WithRand(rng *rand.Rand) Option {
	return func(r *runtime) { r.rng = rng }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(r *runtime) { r.log = log }
}

func newRuntime(opts []Option) runtime {
	r := runtime{
		clock: util.RealClock{},
		log:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(&r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return r
}

// bestPrices returns the best bid and best ask of a depth snapshot. When only
// one side has orders its best price stands in for the other. ok is false
// for an empty book.
func bestPrices(buy, sell orderbook.Depth) (bid, ask int64, ok bool) {
	var hasBid, hasAsk bool
	for p := range buy {
		if !hasBid || p > bid {
			bid, hasBid = p, true
		}
	}
	for p := range sell {
		if !hasAsk || p < ask {
			ask, hasAsk = p, true
		}
	}
	switch {
	case hasBid && hasAsk:
		return bid, ask, true
	case hasBid:
		return bid, bid, true
	case hasAsk:
		return ask, ask, true
	default:
		return 0, 0, false
	}
}
