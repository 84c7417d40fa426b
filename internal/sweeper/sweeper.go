// Package sweeper runs periodic retention tasks: expired tokens, old login attempts and idle
// in-memory buckets.
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"registry-portal/backend/internal/logging"
	"registry-portal/backend/internal/metrics"
)

// Task deletes stale rows of one table and returns how many were removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Sweeper runs every task once per interval until stopped.
type Sweeper struct {
	interval time.Duration
	tasks    []Task
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Sweeper. A non-positive interval defaults to one hour. m may be nil.
func New(interval time.Duration, m *metrics.Metrics, logger *zap.Logger, tasks ...Task) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{interval: interval, tasks: tasks, metrics: m, logger: logging.OrNop(logger)}
}

// RunOnce runs every task sequentially. A failing task is logged and does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) {
	for _, t := range s.tasks {
		if ctx.Err() != nil {
			return
		}
		n, err := t.Run(ctx)
		if err != nil {
			s.logger.Warn("sweep failed", zap.String("task", t.Name), zap.Error(err))
			continue
		}
		s.metrics.Swept(t.Name, n)
		if n > 0 {
			s.logger.Info("sweep", zap.String("task", t.Name), zap.Int64("deleted", n))
		}
	}
}

// Start launches the background loop. The first pass runs immediately. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop cancels the loop and waits for the running pass to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
