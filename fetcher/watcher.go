package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fa-rss/faexport"
	"fa-rss/metrics"
	"fa-rss/pkg/farss"
)

const (
	defaultPollInterval     = 10 * time.Second
	defaultChallengeBackoff = 20 * time.Second
)

// Settings is the checkpoint surface the watcher advances. The watcher is
// the only writer of the checkpoint.
type Settings interface {
	LatestSubmissionID(ctx context.Context) (id int64, ok bool, err error)
	UpdateLatestSubmissionID(ctx context.Context, id int64) error
}

// Watcher polls FA for newly published submissions and ingests them in
// strictly increasing ID order, persisting the checkpoint after every
// processed ID so a crash loses at most the in-flight submission.
type Watcher struct {
	// PollInterval is the idle sleep between cycles. ChallengeBackoff is
	// the fixed delay before retrying after a Cloudflare challenge.
	PollInterval     time.Duration
	ChallengeBackoff time.Duration

	api      API
	store    Store
	settings Settings
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewWatcher creates a watcher with the default cadence.
func NewWatcher(api API, store Store, settings Settings, m *metrics.Metrics, logger *slog.Logger) *Watcher {
	return &Watcher{
		PollInterval:     defaultPollInterval,
		ChallengeBackoff: defaultChallengeBackoff,
		api:              api,
		store:            store,
		settings:         settings,
		metrics:          m,
		logger:           logger,
	}
}

// Run polls until ctx is cancelled. Cycle failures are logged and the next
// cycle proceeds; only cancellation stops the loop.
func (w *Watcher) Run(ctx context.Context) error {
	w.metrics.WatcherStartTime.SetToCurrentTime()
	w.logger.Info("Data watcher started", "poll_interval", w.PollInterval.String())
	for {
		if err := sleepCtx(ctx, w.PollInterval); err != nil {
			w.logger.Info("Data watcher stopping", "error", err)
			return err
		}
		if err := w.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Data watcher stopping", "error", ctx.Err())
				return ctx.Err()
			}
			w.logger.Warn("Watcher cycle failed", "error", err)
		}
	}
}

// cycle performs one poll: observe the latest published ID and process
// everything between the checkpoint and it.
func (w *Watcher) cycle(ctx context.Context) error {
	latest, err := w.latestID(ctx)
	if err != nil {
		return fmt.Errorf("fetch latest submission id: %w", err)
	}
	if latest == 0 {
		// Empty home page snapshot; nothing to anchor on.
		return nil
	}

	checkpoint, ok, err := w.settings.LatestSubmissionID(ctx)
	if err != nil {
		return err
	}
	if !ok {
		// First ever run: seed the checkpoint at the current head. No
		// historical backfill is attempted.
		w.logger.Info("No checkpoint recorded, seeding from latest", "latest", latest)
		return w.settings.UpdateLatestSubmissionID(ctx, latest)
	}
	if latest <= checkpoint {
		return nil
	}

	w.logger.Info("New submissions published", "checkpoint", checkpoint, "latest", latest)
	for id := checkpoint + 1; id <= latest; id++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.processSubmission(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// processSubmission ingests one ID and advances the checkpoint past it.
// A deleted submission counts as processed; the watcher must not stall on
// gaps in the ID sequence.
func (w *Watcher) processSubmission(ctx context.Context, id int64) error {
	sub, err := w.fetchWithChallengeRetry(ctx, id)
	switch {
	case faexport.IsNotFound(err):
		w.logger.Debug("Submission deleted before ingestion", "submission_id", id)
		w.metrics.SubmissionsDeleted.Inc()
	case err != nil:
		return fmt.Errorf("fetch submission %d: %w", id, err)
	default:
		if err := w.store.SaveSubmission(ctx, sub); err != nil {
			return err
		}
		w.metrics.SubmissionsSaved.Inc()
		w.metrics.LatestSubmissionID.Set(float64(id))
		w.metrics.LatestPostedAt.Set(float64(sub.PostedAt.Unix()))
		w.logger.Info("Submission ingested",
			"submission_id", id,
			"username", sub.Username,
			"posted_at", sub.PostedAt.Format(time.RFC3339))
	}
	return w.settings.UpdateLatestSubmissionID(ctx, id)
}

// fetchWithChallengeRetry retries Cloudflare challenges indefinitely with
// a fixed backoff; the watcher outlasts challenge windows rather than
// failing cycles during them.
func (w *Watcher) fetchWithChallengeRetry(ctx context.Context, id int64) (*farss.Submission, error) {
	for {
		sub, err := w.api.Submission(ctx, id)
		if faexport.IsCloudflare(err) {
			w.logger.Warn("Cloudflare challenge from FA, backing off",
				"submission_id", id,
				"backoff", w.ChallengeBackoff.String())
			if sleepErr := sleepCtx(ctx, w.ChallengeBackoff); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return &sub, nil
	}
}

// latestID observes the newest published submission ID, with the same
// indefinite challenge retry as submission fetches.
func (w *Watcher) latestID(ctx context.Context) (int64, error) {
	for {
		latest, err := w.api.LatestSubmissionID(ctx)
		if faexport.IsCloudflare(err) {
			w.logger.Warn("Cloudflare challenge from FA, backing off",
				"backoff", w.ChallengeBackoff.String())
			if sleepErr := sleepCtx(ctx, w.ChallengeBackoff); sleepErr != nil {
				return 0, sleepErr
			}
			continue
		}
		return latest, err
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
