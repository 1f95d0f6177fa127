package orderbook

import (
	"fmt"

	"github.com/google/btree"

	"github.com/uhyunpark/asyncexchange/pkg/app/core/account"
)

// Depth maps price to the aggregated remaining volume at that price.
type Depth map[int64]int64

// PriceLevel is one row of a sorted depth view.
type PriceLevel struct {
	Price  int64 `json:"price"`
	Volume int64 `json:"volume"`
}

type orderRef struct {
	side  Side
	price int64
}

// OrderBook holds the resting orders of both sides.
//
// Each side is a btree of Levels ordered by price; the best buy is the max
// key and the best sell the min key. Empty levels are removed as soon as they
// drain, so every key in a tree has at least one order.
//
// OrderBook is not safe for concurrent use; Exchange serializes access.
type OrderBook struct {
	buys  *btree.BTreeG[*Level]
	sells *btree.BTreeG[*Level]

	// index locates a resting order's level for cancellation.
	index map[OrderID]orderRef
}

func NewOrderBook() *OrderBook {
	less := func(a, b *Level) bool { return a.price < b.price }
	return &OrderBook{
		buys:  btree.NewG[*Level](32, less),
		sells: btree.NewG[*Level](32, less),
		index: make(map[OrderID]orderRef),
	}
}

func (ob *OrderBook) side(s Side) *btree.BTreeG[*Level] {
	switch s {
	case Buy:
		return ob.buys
	case Sell:
		return ob.sells
	default:
		panic(fmt.Sprintf("orderbook: invalid side %d", s))
	}
}

// best returns the level with time and price priority on side s.
func (ob *OrderBook) best(s Side) (*Level, bool) {
	switch s {
	case Buy:
		return ob.buys.Max()
	case Sell:
		return ob.sells.Min()
	default:
		panic(fmt.Sprintf("orderbook: invalid side %d", s))
	}
}

// eachLevel walks side s best price first until fn returns false.
func (ob *OrderBook) eachLevel(s Side, fn func(*Level) bool) {
	switch s {
	case Buy:
		ob.buys.Descend(fn)
	case Sell:
		ob.sells.Ascend(fn)
	default:
		panic(fmt.Sprintf("orderbook: invalid side %d", s))
	}
}

func (ob *OrderBook) level(s Side, price int64) (*Level, bool) {
	return ob.side(s).Get(&Level{price: price})
}

// rest appends o to the back of its price level, creating the level if needed.
func (ob *OrderBook) rest(o *Order) {
	if o.Amount <= 0 {
		panic(fmt.Sprintf("orderbook: resting dead order %v", *o))
	}
	lvl, ok := ob.level(o.Side, o.Price)
	if !ok {
		lvl = newLevel(o.Price)
		ob.side(o.Side).ReplaceOrInsert(lvl)
	}
	lvl.push(o)
	ob.index[o.ID] = orderRef{side: o.Side, price: o.Price}
}

// popFront removes the head of lvl and drops lvl once it is empty.
func (ob *OrderBook) popFront(s Side, lvl *Level) *Order {
	o := lvl.popFront()
	delete(ob.index, o.ID)
	if lvl.Len() == 0 {
		ob.side(s).Delete(lvl)
	}
	return o
}

// lookup finds a resting order by id.
func (ob *OrderBook) lookup(id OrderID) (*Order, *Level, bool) {
	ref, ok := ob.index[id]
	if !ok {
		return nil, nil, false
	}
	lvl, ok := ob.level(ref.side, ref.price)
	if !ok {
		return nil, nil, false
	}
	o, ok := lvl.find(id)
	if !ok {
		return nil, nil, false
	}
	return o, lvl, true
}

// remove cancels a resting order by id, scanning only the level its
// recorded side and price point to.
func (ob *OrderBook) remove(id OrderID) (*Order, bool) {
	ref, ok := ob.index[id]
	if !ok {
		return nil, false
	}
	lvl, ok := ob.level(ref.side, ref.price)
	if !ok {
		delete(ob.index, id)
		return nil, false
	}
	o, ok := lvl.remove(id)
	if !ok {
		return nil, false
	}
	delete(ob.index, id)
	if lvl.Len() == 0 {
		ob.side(ref.side).Delete(lvl)
	}
	return o, true
}

func (ob *OrderBook) depth(s Side) Depth {
	d := make(Depth)
	ob.eachLevel(s, func(l *Level) bool {
		d[l.price] = l.Volume()
		return true
	})
	return d
}

// levels returns side s as a sorted slice, best price first.
func (ob *OrderBook) levels(s Side) []PriceLevel {
	var out []PriceLevel
	ob.eachLevel(s, func(l *Level) bool {
		out = append(out, PriceLevel{Price: l.price, Volume: l.Volume()})
		return true
	})
	return out
}

// ordersOf returns copies of owner's resting orders on side s, best price
// first and in queue order within a price.
func (ob *OrderBook) ordersOf(owner *account.Account, s Side) []Order {
	var out []Order
	ob.eachLevel(s, func(l *Level) bool {
		for _, o := range l.orders {
			if o.Owner == owner {
				out = append(out, *o)
			}
		}
		return true
	})
	return out
}

// Len returns the number of resting orders on both sides.
func (ob *OrderBook) Len() int {
	return len(ob.index)
}
