package sequence

import "sync/atomic"

// Generator hands out unique ids. Implementations must be safe for concurrent use.
type Generator interface {
	Next() uint64
}

// Sequencer is a strictly monotonic Generator. The first id issued is start+1,
// so zero is never handed out and can mean "no id".
type Sequencer struct {
	next atomic.Uint64
}

func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next id.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued id.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

var _ Generator = (*Sequencer)(nil)
