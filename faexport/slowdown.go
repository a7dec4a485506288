package faexport

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Defaults tied to FA's historical load profile; overridable in Config.
const (
	defaultRegisteredLimit    = 10_000
	defaultStatusCheckBackoff = 5 * time.Minute
	defaultSlowdownInterval   = time.Second
)

// statusFetcher samples the upstream status endpoint.
type statusFetcher interface {
	statusForSlowdown(ctx context.Context) (int, error)
}

// Slowdown watches FA's reported load and throttles requests through a
// stricter rate limit while the site is busy enough to serve bots slowly.
type Slowdown struct {
	status  statusFetcher
	limiter *RateLimiter
	logger  *slog.Logger

	registeredLimit int
	checkBackoff    time.Duration
	ignore          bool

	mu        sync.Mutex
	lastCheck time.Time
	slow      bool
}

func newSlowdown(status statusFetcher, logger *slog.Logger, registeredLimit int, checkBackoff, slowdownInterval time.Duration, ignore bool) *Slowdown {
	if registeredLimit <= 0 {
		registeredLimit = defaultRegisteredLimit
	}
	if checkBackoff <= 0 {
		checkBackoff = defaultStatusCheckBackoff
	}
	if slowdownInterval <= 0 {
		slowdownInterval = defaultSlowdownInterval
	}
	return &Slowdown{
		status:          status,
		limiter:         NewRateLimiter(slowdownInterval),
		logger:          logger,
		registeredLimit: registeredLimit,
		checkBackoff:    checkBackoff,
		ignore:          ignore,
	}
}

// WaitIfNeeded applies the slowdown rate limit only while FA is busy.
func (s *Slowdown) WaitIfNeeded(ctx context.Context) error {
	slow, err := s.ShouldSlowDown(ctx)
	if err != nil {
		return err
	}
	if !slow {
		return nil
	}
	s.logger.Debug("FA is in bot slowdown mode, applying slowdown rate limit")
	return s.limiter.Wait(ctx)
}

// ShouldSlowDown returns the cached determination, re-sampling the status
// endpoint only once the backoff window has expired. The status request
// itself never passes through this check, so there is no recursion.
func (s *Slowdown) ShouldSlowDown(ctx context.Context) (bool, error) {
	if s.ignore {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastCheck.IsZero() && time.Since(s.lastCheck) < s.checkBackoff {
		return s.slow, nil
	}

	registered, err := s.status.statusForSlowdown(ctx)
	if err != nil {
		return false, err
	}
	s.lastCheck = time.Now()
	s.slow = registered > s.registeredLimit
	if s.slow {
		s.logger.Info("FA reports heavy load, enabling slowdown mode",
			"online_registered", registered,
			"limit", s.registeredLimit)
	}
	return s.slow, nil
}
