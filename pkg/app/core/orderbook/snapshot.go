package orderbook

import (
	"fmt"
	"strings"
)

// String renders the book as a text ladder: sell levels on top and buy
// levels below, both in descending price order.
//
//	______________
//	Buy   |   Sell  vol
//	      |
//	      |-    5   3
//	------+-------
//	 100 -|         1
//	______________
func (ex *Exchange) String() string {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	var b strings.Builder
	b.WriteString("\n______________\n")
	b.WriteString("Buy   |   Sell  vol\n      |\n")

	var rows []string
	ex.book.sells.Descend(func(l *Level) bool {
		if vol := l.Volume(); vol > 0 {
			rows = append(rows, fmt.Sprintf("      |- %4d   %d", vol, l.price))
		}
		return true
	})
	b.WriteString(strings.Join(rows, "\n"))

	b.WriteString("\n------+-------\n")

	rows = rows[:0]
	ex.book.buys.Descend(func(l *Level) bool {
		if vol := l.Volume(); vol > 0 {
			rows = append(rows, fmt.Sprintf("%4d -|  %8d", vol, l.price))
		}
		return true
	})
	b.WriteString(strings.Join(rows, "\n"))

	b.WriteString("\n______________\n")
	return b.String()
}
