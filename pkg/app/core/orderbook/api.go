package orderbook

import "github.com/uhyunpark/asyncexchange/pkg/app/core/account"

// API is the only surface trading agents get into the exchange.
//
// A handle is scoped to the trader it was registered for: submitted orders
// are always owned by that trader, StandingOrders lists that trader's orders,
// and Cancel only removes orders that trader holds.
type API interface {
	Submit(o Order) OrderID
	Cancel(id OrderID) bool
	StandingOrders() (buys, sells []Order)
	OrderBook() (buy, sell Depth)
}

type handle struct {
	ex    *Exchange
	owner *account.Account
}

func (h *handle) Submit(o Order) OrderID {
	o.Owner = h.owner
	return h.ex.Submit(o)
}

func (h *handle) Cancel(id OrderID) bool {
	return h.ex.cancelOwned(h.owner, id)
}

func (h *handle) StandingOrders() (buys, sells []Order) {
	return h.ex.StandingOrders(h.owner)
}

func (h *handle) OrderBook() (buy, sell Depth) {
	return h.ex.OrderBook()
}

var _ API = (*handle)(nil)
