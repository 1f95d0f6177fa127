package api

import (
	"github.com/uhyunpark/asyncexchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/asyncexchange/pkg/telemetry"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// OrderbookSnapshot represents current orderbook state
type OrderbookSnapshot struct {
	Bids      []orderbook.PriceLevel `json:"bids"`              // Sorted high to low
	Asks      []orderbook.PriceLevel `json:"asks"`              // Sorted low to high
	BestBid   *int64                 `json:"bestBid,omitempty"` // Absent when no bids rest
	BestAsk   *int64                 `json:"bestAsk,omitempty"`
	MidPrice  *int64                 `json:"midPrice,omitempty"` // Only when both sides rest
	LastPrice int64                  `json:"lastPrice"` // 0 before the first trade
	Trades    uint64                 `json:"trades"`
	Timestamp int64                  `json:"timestamp"` // Unix milliseconds
}

// TraderInfo represents a trader's ledger
type TraderInfo struct {
	ID        uint64 `json:"id"`
	Money     int64  `json:"money"`
	Stocks    int64  `json:"stocks"`
	OpenBuys  int    `json:"openBuys"`
	OpenSells int    `json:"openSells"`
}

// OrderInfo represents a resting order
type OrderInfo struct {
	ID     uint64 `json:"id"`
	Side   string `json:"side"` // "buy" or "sell"
	Price  int64  `json:"price"`
	Amount int64  `json:"amount"` // Remaining, unfilled amount
}

// TraderOrders lists a trader's resting orders, best price first
type TraderOrders struct {
	TraderID uint64      `json:"traderId"`
	Buys     []OrderInfo `json:"buys"`
	Sells    []OrderInfo `json:"sells"`
}

// EventsResponse holds stored telemetry records, newest first
type EventsResponse struct {
	Measurement string             `json:"measurement"`
	Total       int                `json:"total"`
	Records     []telemetry.Record `json:"records"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the envelope of every pushed record
type WSMessage struct {
	Type string           `json:"type"` // The channel, e.g. "exchange"
	Data telemetry.Record `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["exchange", "session"]
}

func toOrderInfos(orders []orderbook.Order) []OrderInfo {
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = OrderInfo{
			ID:     uint64(o.ID),
			Side:   o.Side.String(),
			Price:  o.Price,
			Amount: o.Amount,
		}
	}
	return out
}
