package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/asyncexchange/pkg/app/core/account"
	"github.com/uhyunpark/asyncexchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/asyncexchange/pkg/storage"
	"github.com/uhyunpark/asyncexchange/pkg/telemetry"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

// EventReader is the read side of the telemetry store.
type EventReader interface {
	Points(measurement string, limit int) ([]telemetry.Record, error)
	Count(measurement string) (int, error)
}

// Server exposes a read-only view of a running exchange over REST and
// streams telemetry over WebSocket.
type Server struct {
	ex     *orderbook.Exchange
	events EventReader // optional
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger

	// CORS origins; empty allows any
	origins []string
}

// NewServer creates a new API server. events may be nil when no event store
// is configured.
func NewServer(ex *orderbook.Exchange, events EventReader, hub *Hub, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	s := &Server{
		ex:     ex,
		events: events,
		router: mux.NewRouter(),
		hub:    hub,
		log:    log,
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub, which is also a telemetry.Sink.
func (s *Server) Hub() *Hub { return s.hub }

// SetAllowedOrigins restricts CORS to origins.
func (s *Server) SetAllowedOrigins(origins []string) { s.origins = origins }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Book endpoints
	api.HandleFunc("/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/orderbook/snapshot", s.handleGetSnapshot).Methods("GET")

	// Trader endpoints
	api.HandleFunc("/traders", s.handleGetTraders).Methods("GET")
	api.HandleFunc("/traders/{id}", s.handleGetTrader).Methods("GET")
	api.HandleFunc("/traders/{id}/orders", s.handleGetTraderOrders).Methods("GET")

	// Stored telemetry
	api.HandleFunc("/events/{measurement}", s.handleGetEvents).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}
	if len(s.origins) > 0 {
		opts.AllowedOrigins = s.origins
	}
	return cors.New(opts).Handler(s.router)
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Infow("api_stopped", "addr", addr)
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	bids, asks := s.ex.Levels()
	resp := OrderbookSnapshot{
		Bids:      bids,
		Asks:      asks,
		LastPrice: s.ex.LastPrice(),
		Trades:    s.ex.TradeCount(),
		Timestamp: time.Now().UnixMilli(),
	}
	if len(bids) > 0 {
		resp.BestBid = &bids[0].Price
	}
	if len(asks) > 0 {
		resp.BestAsk = &asks[0].Price
	}
	if mid, ok := s.ex.MidPrice(); ok {
		resp.MidPrice = &mid
	}
	respondJSON(w, resp)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s.ex.String()))
}

func (s *Server) handleGetTraders(w http.ResponseWriter, r *http.Request) {
	traders := s.ex.Traders()
	resp := make([]TraderInfo, len(traders))
	for i, acc := range traders {
		resp[i] = s.traderInfo(acc)
	}
	respondJSON(w, resp)
}

func (s *Server) handleGetTrader(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.lookupTrader(w, r)
	if !ok {
		return
	}
	respondJSON(w, s.traderInfo(acc))
}

func (s *Server) handleGetTraderOrders(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.lookupTrader(w, r)
	if !ok {
		return
	}
	buys, sells := s.ex.StandingOrders(acc)
	respondJSON(w, TraderOrders{
		TraderID: uint64(acc.ID()),
		Buys:     toOrderInfos(buys),
		Sells:    toOrderInfos(sells),
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		respondError(w, http.StatusServiceUnavailable, "events disabled", "no event store configured")
		return
	}
	measurement := mux.Vars(r)["measurement"]

	limit := defaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventsLimit)
	}

	records, err := s.events.Points(measurement, limit)
	if errors.Is(err, storage.ErrInvalidMeasurement) {
		respondError(w, http.StatusBadRequest, "invalid measurement", err.Error())
		return
	}
	if err != nil {
		s.log.Errorw("events_read_failed", "measurement", measurement, "err", err)
		respondError(w, http.StatusInternalServerError, "read failed", err.Error())
		return
	}
	total, err := s.events.Count(measurement)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "count failed", err.Error())
		return
	}
	if records == nil {
		records = []telemetry.Record{}
	}
	respondJSON(w, EventsResponse{Measurement: measurement, Total: total, Records: records})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) lookupTrader(w http.ResponseWriter, r *http.Request) (*account.Account, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid trader id", err.Error())
		return nil, false
	}
	for _, acc := range s.ex.Traders() {
		if acc.ID() == account.ID(id) {
			return acc, true
		}
	}
	respondError(w, http.StatusNotFound, "trader not found", raw)
	return nil, false
}

func (s *Server) traderInfo(acc *account.Account) TraderInfo {
	money, stocks := acc.Balances()
	buys, sells := s.ex.StandingOrders(acc)
	return TraderInfo{
		ID:        uint64(acc.ID()),
		Money:     money,
		Stocks:    stocks,
		OpenBuys:  len(buys),
		OpenSells: len(sells),
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
