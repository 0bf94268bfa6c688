package conversation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper drives Store.Sweep on a fixed interval. The store itself stays
// passive so tests can trigger sweeps directly.
type Sweeper struct {
	logger   *zap.Logger
	store    Store
	maxAge   time.Duration
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper for the given store
func NewSweeper(logger *zap.Logger, store Store, maxAge, interval time.Duration) *Sweeper {
	return &Sweeper{
		logger:   logger.Named("conversation.sweeper"),
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. A non-positive interval disables it.
func (s *Sweeper) Start() {
	if s.interval <= 0 {
		close(s.done)
		return
	}
	go s.loop()
}

func (s *Sweeper) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			if _, err := s.store.Sweep(ctx, s.maxAge); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
			cancel()
		case <-s.stop:
			return
		}
	}
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}
