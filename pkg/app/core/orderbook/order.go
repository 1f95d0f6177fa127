package orderbook

import (
	"fmt"

	"github.com/uhyunpark/asyncexchange/pkg/app/core/account"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side an order of side s trades against.
func (s Side) Opposite() Side {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		panic(fmt.Sprintf("orderbook: invalid side %d", s))
	}
}

// OrderID identifies an order. Zero means "no order".
type OrderID uint64

// Order is a limit order.
//
// ID, Side, Owner and Price are fixed once the exchange accepts the order.
// Amount is the remaining quantity and is only changed by the exchange.
type Order struct {
	ID     OrderID
	Side   Side
	Owner  *account.Account
	Price  int64
	Amount int64
}

// crosses reports whether o can trade against a resting order at price.
func (o *Order) crosses(price int64) bool {
	switch o.Side {
	case Buy:
		return o.Price >= price
	case Sell:
		return o.Price <= price
	default:
		panic(fmt.Sprintf("orderbook: invalid side %d", o.Side))
	}
}

func (o Order) String() string {
	owner := "?"
	if o.Owner != nil {
		owner = fmt.Sprint(o.Owner.ID())
	}
	verb := "buys"
	if o.Side == Sell {
		verb = "sells"
	}
	return fmt.Sprintf("#%d: trader %s %s %d@%d", o.ID, owner, verb, o.Amount, o.Price)
}
