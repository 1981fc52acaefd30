package controller

import (
	"sync"

	"github.com/jdziat/campaign-genjobs/pkg/core"
)

// UpdateFunc receives read-only job snapshots.
type UpdateFunc func(*core.Job)

// subscriber delivers snapshots to one callback on its own goroutine, in the
// order they were pushed. Pushing never blocks, so the controller can push
// while holding its lock.
type subscriber struct {
	jobID string
	fn    UpdateFunc

	mu      sync.Mutex
	pending []*core.Job
	sealed  bool // a terminal snapshot was queued, accept nothing more
	stopped bool
	wake    chan struct{}
	quit    chan struct{}
}

func newSubscriber(jobID string, fn UpdateFunc) *subscriber {
	return &subscriber{
		jobID: jobID,
		fn:    fn,
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
	}
}

// push queues a snapshot. It returns false once the subscriber is sealed or stopped.
func (s *subscriber) push(job *core.Job) bool {
	s.mu.Lock()
	if s.sealed || s.stopped {
		s.mu.Unlock()
		return false
	}
	s.pending = append(s.pending, job)
	if job.IsTerminal() {
		s.sealed = true
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// stop discards queued snapshots and ends the delivery loop.
// Deliveries that have not started yet will not happen.
func (s *subscriber) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.pending = nil
	close(s.quit)
}

// next pops the oldest queued snapshot.
func (s *subscriber) next() (*core.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || len(s.pending) == 0 {
		return nil, false
	}
	job := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	return job, true
}

func (s *subscriber) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}
		for {
			job, ok := s.next()
			if !ok {
				break
			}
			s.fn(job)
			if job.IsTerminal() {
				s.stop()
				return
			}
		}
	}
}
