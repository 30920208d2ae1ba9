// Package worker runs long-lived background loops under supervision.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

var ErrWorkerPanic = errors.New("worker panic")

const waitTimeBeforeRestart = 200 * time.Millisecond

// Worker is a loop that runs until ctx is canceled.
// Returning nil means the worker is done and must not be restarted.
type Worker interface {
	Run(ctx context.Context) error
}

// Name returns the worker's type name, for logs.
func Name(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Supervisor runs each worker in its own goroutine and restarts it after a
// panic or an error, until the parent context is canceled.
type Supervisor struct {
	cancel  context.CancelFunc
	stopped bool
	mu      sync.Mutex
	wg      sync.WaitGroup
	log     *slog.Logger
	restart time.Duration
	workers []Worker
}

func NewSupervisor(log *slog.Logger) *Supervisor {
	return &Supervisor{log: log, restart: waitTimeBeforeRestart}
}

func (s *Supervisor) Add(workers ...Worker) *Supervisor {
	s.workers = append(s.workers, workers...)
	return s
}

// Run starts every added worker and blocks until all of them have returned.
func (s *Supervisor) Run(ctx context.Context) {
	supervisedCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	if s.stopped {
		cancel()
	}
	s.mu.Unlock()
	defer cancel()

	for _, w := range s.workers {
		s.start(supervisedCtx, w)
	}
	s.wg.Wait()
}

func (s *Supervisor) start(ctx context.Context, w Worker) {
	s.wg.Add(1)
	name := Name(w)

	go func() {
		defer s.wg.Done()

		for {
			if ctx.Err() != nil {
				s.log.Info("Stopping worker", "name", name)
				return
			}

			err := func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("%w: %v", ErrWorkerPanic, r)
					}
				}()
				return w.Run(ctx)
			}()

			if err == nil {
				s.log.Info("Worker finished", "name", name)
				return
			}
			if ctx.Err() != nil {
				s.log.Info("Worker stopped (context canceled)", "name", name)
				return
			}

			s.log.Warn("Worker crashed, restarting", "name", name, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.restart):
			}
		}
	}()
}

// Stop cancels every worker. Run returns once they have all exited.
// A Stop that comes before Run makes Run return immediately.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
}
