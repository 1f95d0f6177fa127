package orderbook

// Level is the FIFO queue of resting orders at one price.
// Orders are kept in arrival order; the front has time priority.
type Level struct {
	price  int64
	orders []*Order
}

func newLevel(price int64) *Level {
	return &Level{price: price}
}

func (l *Level) Price() int64 { return l.price }
func (l *Level) Len() int     { return len(l.orders) }

// Volume is the total remaining amount resting at this price.
func (l *Level) Volume() int64 {
	var total int64
	for _, o := range l.orders {
		total += o.Amount
	}
	return total
}

func (l *Level) push(o *Order) {
	l.orders = append(l.orders, o)
}

func (l *Level) front() *Order {
	return l.orders[0]
}

func (l *Level) popFront() *Order {
	o := l.orders[0]
	l.orders[0] = nil
	l.orders = l.orders[1:]
	return o
}

// remove drops the order with the given id, scanning the queue linearly.
func (l *Level) remove(id OrderID) (*Order, bool) {
	for i, o := range l.orders {
		if o.ID == id {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			return o, true
		}
	}
	return nil, false
}

func (l *Level) find(id OrderID) (*Order, bool) {
	for _, o := range l.orders {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}
