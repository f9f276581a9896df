package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/comalice/fedsync/internal/federation"
	"github.com/comalice/fedsync/internal/primitives"
)

// Scheduler is a federation.Scheduler whose clock and thread table are set
// by the test. The calling thread is taken from the context.
type Scheduler struct {
	mu       sync.Mutex
	threads  int
	types    map[int]primitives.ProcessType
	amf      map[int]time.Duration
	tic      time.Duration
	simTime  time.Duration
	shutdown atomic.Bool
}

// NewScheduler returns a scheduler with n threads, thread 0 main and every
// other thread a scheduled child.
func NewScheduler(n int) *Scheduler {
	s := &Scheduler{
		threads: n,
		types:   make(map[int]primitives.ProcessType),
		amf:     make(map[int]time.Duration),
	}
	for id := 1; id < n; id++ {
		s.types[id] = primitives.ProcessScheduled
	}
	return s
}

// SetThreads changes the live thread count.
func (s *Scheduler) SetThreads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = n
}

// SetProcessType overrides the classification of a thread.
func (s *Scheduler) SetProcessType(id int, pt primitives.ProcessType, amfCycle time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[id] = pt
	s.amf[id] = amfCycle
}

// SetTimeTic sets the scheduler resolution.
func (s *Scheduler) SetTimeTic(tic time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tic = tic
}

// SetSimTime moves the simulation clock.
func (s *Scheduler) SetSimTime(t time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.simTime = t
}

// RequestShutdown raises the shutdown flag.
func (s *Scheduler) RequestShutdown() {
	s.shutdown.Store(true)
}

func (s *Scheduler) NumThreads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads
}

func (s *Scheduler) ProcessType(id int) primitives.ProcessType {
	if id == 0 {
		return primitives.ProcessMain
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.types[id]
}

func (s *Scheduler) AMFCycle(id int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.amf[id]
}

func (s *Scheduler) TimeTic() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tic
}

func (s *Scheduler) SimTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.simTime
}

func (s *Scheduler) ProcessID(ctx context.Context) int {
	return federation.ThreadFromContext(ctx)
}

func (s *Scheduler) ShutdownRequested() bool {
	return s.shutdown.Load()
}
