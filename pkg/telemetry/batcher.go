package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by Close on an already closed Batcher.
var ErrClosed = errors.New("telemetry: batcher closed")

// Writer persists or ships a batch of records that share one measurement.
type Writer interface {
	WritePoints(ctx context.Context, records []Record) error
}

type BatcherConfig struct {
	BatchSize     int           // records per measurement before a flush
	FlushInterval time.Duration // periodic flush of partial batches; 0 disables
	BufferSize    int           // intake queue length; events beyond it are dropped
	WriteTimeout  time.Duration // per-batch write deadline
}

func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		BatchSize:     1000,
		FlushInterval: time.Second,
		BufferSize:    4096,
		WriteTimeout:  5 * time.Second,
	}
}

// Batcher is an asynchronous Sink. Events are queued without blocking,
// grouped per measurement, and handed to the Writer when a group reaches
// BatchSize, on every FlushInterval tick, and on Close.
//
// When the queue is full events are dropped and counted. Write errors are
// logged and the batch is discarded.
type Batcher struct {
	cfg   BatcherConfig
	w     Writer
	log   *zap.SugaredLogger
	clock func() time.Time

	in      chan Record
	quit    chan struct{}
	done    chan struct{}
	closeMu sync.RWMutex
	closed  bool

	dropped atomic.Uint64
	written atomic.Uint64
	failed  atomic.Uint64
}

func NewBatcher(w Writer, cfg BatcherConfig, log *zap.SugaredLogger) *Batcher {
	def := DefaultBatcherConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	b := &Batcher{
		cfg:   cfg,
		w:     w,
		log:   log,
		clock: time.Now,
		in:    make(chan Record, cfg.BufferSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go b.loop()
	return b
}

// SendEvent queues one record. It never blocks.
func (b *Batcher) SendEvent(recordType string, fields Fields) {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}

	rec := Record{Time: b.clock(), Measurement: recordType, Fields: fields}
	select {
	case b.in <- rec:
	default:
		b.dropped.Add(1)
	}
}

// Close drains the queue, flushes every pending batch and stops the loop.
func (b *Batcher) Close() error {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return ErrClosed
	}
	b.closed = true
	close(b.quit)
	b.closeMu.Unlock()

	<-b.done
	b.log.Infow("telemetry_closed", "written", b.written.Load(), "dropped", b.dropped.Load(), "failed", b.failed.Load())
	return nil
}

// Stats reports how many records were written, dropped at intake, and lost
// to failed writes.
func (b *Batcher) Stats() (written, dropped, failed uint64) {
	return b.written.Load(), b.dropped.Load(), b.failed.Load()
}

func (b *Batcher) loop() {
	defer close(b.done)

	pending := make(map[string][]Record)

	var tick <-chan time.Time
	if b.cfg.FlushInterval > 0 {
		ticker := time.NewTicker(b.cfg.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	add := func(rec Record) {
		batch := append(pending[rec.Measurement], rec)
		if len(batch) >= b.cfg.BatchSize {
			b.flush(batch)
			batch = nil
		}
		pending[rec.Measurement] = batch
	}
	flushAll := func() {
		for m, batch := range pending {
			if len(batch) > 0 {
				b.flush(batch)
			}
			delete(pending, m)
		}
	}

	for {
		select {
		case rec := <-b.in:
			add(rec)
		case <-tick:
			flushAll()
		case <-b.quit:
			for {
				select {
				case rec := <-b.in:
					add(rec)
				default:
					flushAll()
					return
				}
			}
		}
	}
}

func (b *Batcher) flush(batch []Record) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.WriteTimeout)
	defer cancel()

	if err := b.w.WritePoints(ctx, batch); err != nil {
		b.failed.Add(uint64(len(batch)))
		b.log.Warnw("telemetry_write_failed", "measurement", batch[0].Measurement, "records", len(batch), "err", err)
		return
	}
	b.written.Add(uint64(len(batch)))
	b.log.Debugw("telemetry_flushed", "measurement", batch[0].Measurement, "records", len(batch))
}

var _ Sink = (*Batcher)(nil)

// MultiWriter writes each batch to every writer and joins their errors.
type MultiWriter []Writer

func (m MultiWriter) WritePoints(ctx context.Context, records []Record) error {
	var errs []error
	for _, w := range m {
		if err := w.WritePoints(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
