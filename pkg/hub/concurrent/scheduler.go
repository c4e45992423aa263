package concurrent

import (
	"context"
	"sync"
)

// An issued job to be executed.
type Job func(ctx context.Context)

// Scheduler executes jobs sequentially on a single goroutine.
// All protocol state is mutated only from scheduled jobs, so no
// locks are needed around the hub structures. Network layers
// post continuations back here instead of touching state.
type Scheduler interface {
	// Schedule a job for execution.
	Schedule(Job)

	// How many jobs are pending.
	Pending() int

	// Stop the scheduler. Jobs still pending are executed with
	// a cancelled context before the loop goroutine exits.
	Stop()
}

type fifo struct {
	mutex sync.Mutex

	ch        chan struct{}
	completed int
	pending   []Job

	ctx         context.Context
	cancellable context.CancelFunc

	close chan struct{}
}

func NewScheduler() Scheduler {
	s := &fifo{
		ch:    make(chan struct{}, 1),
		close: make(chan struct{}, 1),
	}

	s.ctx, s.cancellable = context.WithCancel(context.Background())
	go s.forever()
	return s
}

// Schedule the job to be executed sometime in the future.
func (s *fifo) Schedule(j Job) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cancellable == nil {
		panic("scheduler is already stopped")
	}

	if len(s.pending) == 0 {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
	s.pending = append(s.pending, j)
}

// How many jobs are still pending.
func (s *fifo) Pending() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.pending)
}

// Stop the current Scheduler. Any job that tries to be scheduled
// after this will panic.
func (s *fifo) Stop() {
	s.mutex.Lock()
	if s.cancellable == nil {
		s.mutex.Unlock()
		return
	}
	s.cancellable()
	s.cancellable = nil
	s.mutex.Unlock()
	<-s.close
}

// Keeps polling the scheduled jobs for execution forever.
func (s *fifo) forever() {
	defer func() {
		close(s.close)
		close(s.ch)
	}()

	for {
		var job Job
		s.mutex.Lock()
		if len(s.pending) != 0 {
			job = s.pending[0]
		}
		s.mutex.Unlock()

		if job == nil {
			select {
			case <-s.ch:
			case <-s.ctx.Done():
				s.mutex.Lock()
				jobs := s.pending
				s.pending = nil
				s.mutex.Unlock()
				for _, job := range jobs {
					job(s.ctx)
				}
				return
			}
		} else {
			job(s.ctx)
			s.mutex.Lock()
			s.completed++
			s.pending = s.pending[1:]
			s.mutex.Unlock()
		}
	}
}
