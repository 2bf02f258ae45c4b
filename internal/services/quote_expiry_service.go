package services

import (
	"context"
	"time"

	"crosspay/internal/config"

	"github.com/sirupsen/logrus"
)

// QuoteExpiryService periodically sweeps pending quotes past their
// expiry. The sweep is a safety net: commit also checks expiry lazily,
// so a missed tick never lets a stale quote commit.
type QuoteExpiryService struct {
	quotes   *QuoteService
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

// NewQuoteExpiryService creates a QuoteExpiryService.
func NewQuoteExpiryService(quotes *QuoteService, cfg *config.Config) *QuoteExpiryService {
	return &QuoteExpiryService{
		quotes:   quotes,
		interval: time.Duration(cfg.Quotes.SweepInterval) * time.Second,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (s *QuoteExpiryService) Start() {
	s.started = true
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		logrus.WithField("interval", s.interval).Info("quote expiry sweep started")
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight sweep to finish.
// A no-op if the loop was never started.
func (s *QuoteExpiryService) Stop() {
	if !s.started {
		return
	}
	close(s.stop)
	<-s.done
}

func (s *QuoteExpiryService) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.quotes.ExpireStaleQuotes(ctx); err != nil {
		logrus.WithError(err).Error("quote expiry sweep failed")
	}
}

// RunOnce performs a single sweep, for the standalone sweep command.
func (s *QuoteExpiryService) RunOnce(ctx context.Context) (int, error) {
	return s.quotes.ExpireStaleQuotes(ctx)
}
