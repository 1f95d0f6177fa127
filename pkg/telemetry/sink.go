package telemetry

import (
	"errors"
	"time"
)

// Measurement names emitted by the simulator.
const (
	MeasurementExchange = "exchange"
	MeasurementSession  = "session"
)

// Fields is the payload of one telemetry record.
type Fields map[string]any

// Record is a single point as stored and shipped downstream.
type Record struct {
	Time        time.Time `json:"time"`
	Measurement string    `json:"measurement"`
	Fields      Fields    `json:"fields"`
}

// Sink receives fire-and-forget telemetry records.
//
// SendEvent must never block the caller for long or report failures back;
// delivery is best-effort. Close flushes whatever is pending and releases
// resources. Implementations are safe for concurrent use.
type Sink interface {
	SendEvent(recordType string, fields Fields)
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) SendEvent(string, Fields) {}
func (Nop) Close() error             { return nil }

// Multi fans each event out to every sink in order.
type Multi []Sink

func (m Multi) SendEvent(recordType string, fields Fields) {
	for _, s := range m {
		s.SendEvent(recordType, fields)
	}
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tagged adds fixed fields (for example a session id) to every event before
// passing it on. Caller-provided fields win on key collisions.
type Tagged struct {
	Sink Sink
	Tags Fields
}

func (t Tagged) SendEvent(recordType string, fields Fields) {
	merged := make(Fields, len(fields)+len(t.Tags))
	for k, v := range t.Tags {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	t.Sink.SendEvent(recordType, merged)
}

func (t Tagged) Close() error { return t.Sink.Close() }

var (
	_ Sink = Nop{}
	_ Sink = Multi(nil)
	_ Sink = Tagged{}
)
