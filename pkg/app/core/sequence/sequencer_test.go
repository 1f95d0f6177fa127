package sequence

import (
	"sync"
	"testing"
)

func TestSequencerStartsAfterStart(t *testing.T) {
	s := New(0)
	if got := s.Next(); got != 1 {
		t.Fatalf("first id = %d, want 1", got)
	}
	if got := s.Current(); got != 1 {
		t.Errorf("current = %d, want 1", got)
	}

	s = New(41)
	if got := s.Next(); got != 42 {
		t.Errorf("first id = %d, want 42", got)
	}
}

func TestSequencerConcurrentUnique(t *testing.T) {
	s := New(0)
	const workers, per = 8, 500

	var (
		mu   sync.Mutex
		seen = make(map[uint64]bool, workers*per)
		wg   sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]uint64, 0, per)
			for j := 0; j < per; j++ {
				ids = append(ids, s.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*per {
		t.Errorf("got %d ids, want %d", len(seen), workers*per)
	}
	if s.Current() != workers*per {
		t.Errorf("current = %d, want %d", s.Current(), workers*per)
	}
}
