package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]Record
	gate    chan struct{}
	err     error
}

func (w *fakeWriter) WritePoints(ctx context.Context, records []Record) error {
	if w.gate != nil {
		<-w.gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	cp := make([]Record, len(records))
	copy(cp, records)
	w.batches = append(w.batches, cp)
	return nil
}

func (w *fakeWriter) snapshot() [][]Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]Record(nil), w.batches...)
}

func waitBatches(t *testing.T, w *fakeWriter, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(w.snapshot()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("got %d batches, want %d", len(w.snapshot()), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBatcherFlushesAtBatchSize(t *testing.T) {
	w := &fakeWriter{}
	b := NewBatcher(w, BatcherConfig{BatchSize: 3}, nil)

	for i := 0; i < 7; i++ {
		b.SendEvent(MeasurementExchange, Fields{"i": i})
	}
	waitBatches(t, w, 2)

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	batches := w.snapshot()
	if len(batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(batches))
	}
	wantSizes := []int{3, 3, 1}
	next := 0
	for i, batch := range batches {
		if len(batch) != wantSizes[i] {
			t.Errorf("batch %d size = %d, want %d", i, len(batch), wantSizes[i])
		}
		for _, rec := range batch {
			if rec.Fields["i"] != next {
				t.Errorf("record order: got %v, want %d", rec.Fields["i"], next)
			}
			next++
		}
	}
	if written, dropped, _ := b.Stats(); written != 7 || dropped != 0 {
		t.Errorf("stats written=%d dropped=%d, want 7/0", written, dropped)
	}
}

func TestBatcherGroupsByMeasurement(t *testing.T) {
	w := &fakeWriter{}
	b := NewBatcher(w, BatcherConfig{BatchSize: 100}, nil)

	for i := 0; i < 4; i++ {
		b.SendEvent(MeasurementExchange, Fields{"i": i})
		b.SendEvent(MeasurementSession, Fields{"i": i})
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	batches := w.snapshot()
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want one per measurement", len(batches))
	}
	for _, batch := range batches {
		if len(batch) != 4 {
			t.Errorf("batch size = %d, want 4", len(batch))
		}
		for _, rec := range batch {
			if rec.Measurement != batch[0].Measurement {
				t.Errorf("mixed batch: %s and %s", rec.Measurement, batch[0].Measurement)
			}
			if rec.Time.IsZero() {
				t.Error("record without timestamp")
			}
		}
	}
}

func TestBatcherFlushInterval(t *testing.T) {
	w := &fakeWriter{}
	b := NewBatcher(w, BatcherConfig{BatchSize: 1000, FlushInterval: 5 * time.Millisecond}, nil)
	defer b.Close()

	b.SendEvent(MeasurementExchange, Fields{"price": 5})
	b.SendEvent(MeasurementExchange, Fields{"price": 6})
	waitBatches(t, w, 1)

	if got := len(w.snapshot()[0]); got != 2 {
		t.Errorf("first batch = %d records, want 2", got)
	}
}

func TestBatcherDropsWhenFull(t *testing.T) {
	w := &fakeWriter{gate: make(chan struct{})}
	b := NewBatcher(w, BatcherConfig{BatchSize: 1, BufferSize: 1}, nil)

	const sent = 10
	start := time.Now()
	for i := 0; i < sent; i++ {
		b.SendEvent(MeasurementExchange, Fields{"i": i})
	}
	if time.Since(start) > time.Second {
		t.Error("SendEvent blocked on a stalled writer")
	}

	// one record may be stuck in the writer, one more in the queue
	if _, dropped, _ := b.Stats(); dropped < sent-2 {
		t.Errorf("dropped = %d, want at least %d", dropped, sent-2)
	}

	close(w.gate)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	written, dropped, failed := b.Stats()
	if written+dropped != sent || failed != 0 {
		t.Errorf("written=%d dropped=%d failed=%d, want written+dropped=%d", written, dropped, failed, sent)
	}
}

func TestBatcherWriteFailureIsSwallowed(t *testing.T) {
	w := &fakeWriter{err: errors.New("disk full")}
	b := NewBatcher(w, BatcherConfig{BatchSize: 2}, nil)

	for i := 0; i < 5; i++ {
		b.SendEvent(MeasurementExchange, Fields{"i": i})
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close err = %v, want nil", err)
	}
	if written, _, failed := b.Stats(); written != 0 || failed != 5 {
		t.Errorf("written=%d failed=%d, want 0/5", written, failed)
	}
}

func TestBatcherCloseTwiceAndSendAfterClose(t *testing.T) {
	w := &fakeWriter{}
	b := NewBatcher(w, DefaultBatcherConfig(), nil)

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close err = %v, want ErrClosed", err)
	}

	b.SendEvent(MeasurementExchange, Fields{"late": true})
	if _, dropped, _ := b.Stats(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if len(w.snapshot()) != 0 {
		t.Error("write after close")
	}
}

func TestTaggedAndMulti(t *testing.T) {
	a, c := &fakeWriter{}, &fakeWriter{}
	ba := NewBatcher(a, BatcherConfig{BatchSize: 10}, nil)
	bc := NewBatcher(c, BatcherConfig{BatchSize: 10}, nil)

	s := Tagged{Sink: Multi{ba, bc}, Tags: Fields{"session": "s1", "price": -1}}
	s.SendEvent(MeasurementExchange, Fields{"price": 7})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	for name, w := range map[string]*fakeWriter{"a": a, "c": c} {
		batches := w.snapshot()
		if len(batches) != 1 || len(batches[0]) != 1 {
			t.Fatalf("%s: batches = %v", name, batches)
		}
		f := batches[0][0].Fields
		if f["session"] != "s1" || f["price"] != 7 {
			t.Errorf("%s: fields = %v", name, f)
		}
	}
}

func TestMultiWriterJoinsErrors(t *testing.T) {
	ok := &fakeWriter{}
	bad := &fakeWriter{err: errors.New("boom")}
	err := MultiWriter{bad, ok}.WritePoints(context.Background(), []Record{{Measurement: "x"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(ok.snapshot()) != 1 {
		t.Error("healthy writer skipped after a failure")
	}
}
