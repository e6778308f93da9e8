package pipeline

import (
	"sync"

	"pinstrategy/internal/domain"
)

// stateStream delivers snapshots to a single consumer in order. Pushing never
// blocks: snapshots queue up until the consumer reads them. The forwarding
// goroutine only starts once somebody asks for the channel.
type stateStream struct {
	mu     sync.Mutex
	queue  []domain.ProcessState
	closed bool

	wake    chan struct{}
	out     chan domain.ProcessState
	dropped chan struct{}
	start   sync.Once
	drop    sync.Once
}

func newStateStream() *stateStream {
	return &stateStream{
		wake:    make(chan struct{}, 1),
		out:     make(chan domain.ProcessState),
		dropped: make(chan struct{}),
	}
}

func (s *stateStream) push(st domain.ProcessState) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, st)
	s.mu.Unlock()
	s.signal()
}

func (s *stateStream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

// discard closes the stream and throws away snapshots the consumer has not
// read yet, including one the pump is holding.
func (s *stateStream) discard() {
	s.mu.Lock()
	s.queue = nil
	s.closed = true
	s.mu.Unlock()
	s.drop.Do(func() { close(s.dropped) })
	s.signal()
}

func (s *stateStream) channel() <-chan domain.ProcessState {
	s.start.Do(func() { go s.pump() })
	return s.out
}

func (s *stateStream) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *stateStream) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		select {
		case <-s.dropped:
			return
		default:
		}
		select {
		case s.out <- next:
		case <-s.dropped:
			return
		}
	}
}
