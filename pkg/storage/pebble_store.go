package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/asyncexchange/pkg/telemetry"
)

// ErrInvalidMeasurement is returned for empty or malformed measurement names.
var ErrInvalidMeasurement = errors.New("invalid measurement name")

// EventStore keeps telemetry records in a local Pebble database. It is the
// default telemetry.Writer behind the batcher and backs the events endpoint.
type EventStore struct {
	db  *pebble.DB
	seq atomic.Uint64
}

func OpenEventStore(path string) (*EventStore, error) {
	cache := pebble.NewCache(64 << 20) // 64MB block cache
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache:        cache,
		MemTableSize: 16 << 20,
		BytesPerSync: 512 << 10,
	})
	if err != nil {
		return nil, fmt.Errorf("open event store %s: %w", path, err)
	}
	return &EventStore{db: db}, nil
}

func (s *EventStore) Close() error { return s.db.Close() }

// WritePoints stores a batch atomically.
func (s *EventStore) WritePoints(ctx context.Context, records []telemetry.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, rec := range records {
		if err := validMeasurement(rec.Measurement); err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal %s record: %w", rec.Measurement, err)
		}
		key := eventKey(rec.Measurement, rec.Time.UnixNano(), s.seq.Add(1))
		if err := batch.Set(key, data, nil); err != nil {
			return fmt.Errorf("failed to stage record: %w", err)
		}
	}

	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("failed to commit %d records: %w", len(records), err)
	}
	return nil
}

// Points returns up to limit records of a measurement, newest first.
// A limit <= 0 returns everything.
func (s *EventStore) Points(measurement string, limit int) ([]telemetry.Record, error) {
	if err := validMeasurement(measurement); err != nil {
		return nil, err
	}
	prefix := eventPrefix(measurement)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []telemetry.Record
	for iter.Last(); iter.Valid() && (limit <= 0 || len(out) < limit); iter.Prev() {
		var rec telemetry.Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // Skip invalid entries
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

// Count returns the number of stored records of a measurement.
func (s *EventStore) Count(measurement string) (int, error) {
	if err := validMeasurement(measurement); err != nil {
		return 0, err
	}
	prefix := eventPrefix(measurement)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

// measurement names become part of the key, so ':' would bleed into the
// timestamp segment
func validMeasurement(m string) error {
	if m == "" {
		return ErrInvalidMeasurement
	}
	for i := 0; i < len(m); i++ {
		if m[i] == ':' {
			return fmt.Errorf("%w: %q", ErrInvalidMeasurement, m)
		}
	}
	return nil
}

var _ telemetry.Writer = (*EventStore)(nil)
