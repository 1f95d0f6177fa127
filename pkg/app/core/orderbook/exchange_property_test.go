package orderbook

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/uhyunpark/asyncexchange/pkg/app/core/account"
)

// checkBookInvariants verifies the structural invariants that must hold
// between any two exchange calls.
func checkBookInvariants(t *rapid.T, ex *Exchange) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	resting := 0
	for _, side := range []Side{Buy, Sell} {
		ex.book.eachLevel(side, func(l *Level) bool {
			if l.Len() == 0 {
				t.Fatalf("empty %s level at %d left in book", side, l.price)
			}
			for _, o := range l.orders {
				if o.Amount <= 0 {
					t.Fatalf("dead order %v resting", *o)
				}
				if o.Price != l.price || o.Side != side {
					t.Fatalf("order %v filed under %s@%d", *o, side, l.price)
				}
				ref, ok := ex.book.index[o.ID]
				if !ok || ref.side != side || ref.price != l.price {
					t.Fatalf("index entry for %v = %+v, %v", *o, ref, ok)
				}
				resting++
			}
			return true
		})
	}
	if resting != len(ex.book.index) {
		t.Fatalf("index has %d entries, book has %d orders", len(ex.book.index), resting)
	}

	bid, okBid := ex.bestPrice(Buy)
	ask, okAsk := ex.bestPrice(Sell)
	if okBid && okAsk && bid >= ask {
		t.Fatalf("book crossed: best bid %d >= best ask %d", bid, ask)
	}
}

func TestPropertyMatchingInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sink := &recordingSink{}
		ex := NewExchange(WithSink(sink))

		n := rapid.IntRange(2, 4).Draw(t, "traders")
		traders := make([]*testTrader, n)
		var totalMoney, totalStocks int64
		for i := range traders {
			money := rapid.Int64Range(0, 500).Draw(t, "money")
			stocks := rapid.Int64Range(0, 50).Draw(t, "stocks")
			acc, err := account.New(account.ID(i+1), money, stocks)
			if err != nil {
				t.Fatalf("new account: %v", err)
			}
			traders[i] = &testTrader{acc: acc}
			ex.RegisterTrader(traders[i])
			totalMoney += money
			totalStocks += stocks
		}

		var ids []OrderID
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			tr := traders[rapid.IntRange(0, n-1).Draw(t, "trader")]

			if len(ids) > 0 && rapid.IntRange(0, 4).Draw(t, "action") == 0 {
				id := ids[rapid.IntRange(0, len(ids)-1).Draw(t, "cancel")]
				tr.api.Cancel(id)
			} else {
				side := Buy
				if rapid.Bool().Draw(t, "sell") {
					side = Sell
				}
				price := rapid.Int64Range(1, 30).Draw(t, "price")
				amount := rapid.Int64Range(-2, 40).Draw(t, "amount")

				before := len(sink.trades())
				if id := tr.api.Submit(Order{Side: side, Price: price, Amount: amount}); id != 0 {
					ids = append(ids, id)
				} else if amount > 0 {
					t.Fatalf("valid order %d@%d rejected", amount, price)
				}

				// a taker never pays worse than its own limit
				for _, e := range sink.trades()[before:] {
					p := e.Fields["price"].(int64)
					if side == Buy && p > price || side == Sell && p < price {
						t.Fatalf("%s taker with limit %d executed at %d", side, price, p)
					}
				}
			}

			var money, stocks int64
			for _, tr := range traders {
				m, s := tr.acc.Balances()
				if m < 0 || s < 0 {
					t.Fatalf("negative balance: %v", tr.acc)
				}
				money += m
				stocks += s
			}
			if money != totalMoney || stocks != totalStocks {
				t.Fatalf("totals = (%d, %d), want (%d, %d)", money, stocks, totalMoney, totalStocks)
			}
			checkBookInvariants(t, ex)
		}
	})
}

// TestPropertyFIFOWithinPrice places several makers at one price and checks
// that a taker consumes them strictly in arrival order.
func TestPropertyFIFOWithinPrice(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ex := NewExchange()
		price := rapid.Int64Range(1, 20).Draw(t, "price")

		makers := rapid.IntRange(2, 6).Draw(t, "makers")
		var amounts []int64
		var ids []OrderID
		var total int64
		for i := 0; i < makers; i++ {
			acc, _ := account.New(account.ID(i+1), 0, 100)
			tr := &testTrader{acc: acc}
			ex.RegisterTrader(tr)
			amount := rapid.Int64Range(1, 10).Draw(t, "amount")
			ids = append(ids, tr.sell(amount, price))
			amounts = append(amounts, amount)
			total += amount
		}

		take := rapid.Int64Range(1, total).Draw(t, "take")
		buyerAcc, _ := account.New(account.ID(makers+1), take*price, 0)
		buyer := &testTrader{acc: buyerAcc}
		ex.RegisterTrader(buyer)
		buyer.buy(take, price)

		remaining := take
		for i, id := range ids {
			filled := min(remaining, amounts[i])
			remaining -= filled
			o, _, ok := ex.book.lookup(id)
			switch {
			case filled == amounts[i] && ok:
				t.Fatalf("maker %d fully filled but still resting", i)
			case filled < amounts[i] && (!ok || o.Amount != amounts[i]-filled):
				t.Fatalf("maker %d should have %d left", i, amounts[i]-filled)
			}
		}
		if buyerAcc.Stocks() != take {
			t.Fatalf("buyer got %d stocks, want %d", buyerAcc.Stocks(), take)
		}
	})
}
