// Package fetcher moves submissions from FAExport into the local store:
// a fetch-or-create cache path for single submissions, an on-demand
// backfill for first-time users, and the long-running data watcher.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fa-rss/faexport"
	"fa-rss/metrics"
	"fa-rss/pkg/farss"
)

const (
	defaultInitTimeout = 20 * time.Minute
	defaultFetchLimit  = 5
)

// ErrInitInProgress is returned when another caller is already
// initialising the same user.
var ErrInitInProgress = errors.New("user initialisation already in progress")

// API is the slice of the FAExport client the fetcher needs.
type API interface {
	Submission(ctx context.Context, id int64) (farss.Submission, error)
	GalleryIDs(ctx context.Context, username string, sfw bool) ([]int64, error)
	ScrapsIDs(ctx context.Context, username string, sfw bool) ([]int64, error)
	LatestSubmissionID(ctx context.Context) (int64, error)
}

// Store is the persistence contract the fetcher relies on. SaveSubmission
// must be an idempotent upsert keyed by ID; SaveUser must be
// insert-if-absent.
type Store interface {
	Submission(ctx context.Context, id int64) (*farss.Submission, error)
	SaveSubmission(ctx context.Context, sub *farss.Submission) error
	User(ctx context.Context, username string) (*farss.User, error)
	SaveUser(ctx context.Context, user *farss.User) error
}

// Fetcher implements the ingestion paths shared by the web layer and the
// watcher.
type Fetcher struct {
	// InitTimeout bounds a whole user initialisation, including pending
	// fetches. FetchLimit caps simultaneous submission fetches during one
	// initialisation.
	InitTimeout time.Duration
	FetchLimit  int

	api     API
	store   Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a fetcher with the default backfill limits.
func New(api API, store Store, m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		InitTimeout: defaultInitTimeout,
		FetchLimit:  defaultFetchLimit,
		api:         api,
		store:       store,
		metrics:     m,
		logger:      logger,
		inFlight:    make(map[string]struct{}),
	}
}

// FetchSubmission returns the stored submission if present, otherwise
// fetches it from FAExport and persists it.
func (f *Fetcher) FetchSubmission(ctx context.Context, id int64) (*farss.Submission, error) {
	sub, err := f.store.Submission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		return sub, nil
	}
	fetched, err := f.api.Submission(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := f.store.SaveSubmission(ctx, &fetched); err != nil {
		return nil, err
	}
	return &fetched, nil
}

// InitialiseUser ingests a first-time user's recent backlog and records
// the initialised-user marker. Concurrent calls for the same user return
// ErrInitInProgress instead of duplicating the work; calls for different
// users proceed in parallel.
func (f *Fetcher) InitialiseUser(ctx context.Context, username string) (*farss.User, error) {
	username = farss.NormalizeUsername(username)
	if !f.markInFlight(username) {
		return nil, ErrInitInProgress
	}
	defer f.clearInFlight(username)

	ctx, cancel := context.WithTimeout(ctx, f.InitTimeout)
	defer cancel()

	start := time.Now()
	f.logger.Info("Initialising user", "username", username)

	ids, err := f.listUserSubmissionIDs(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list submissions for %s: %w", username, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.FetchLimit)
	for _, id := range ids {
		g.Go(func() error {
			_, err := f.FetchSubmission(gctx, id)
			if faexport.IsNotFound(err) {
				// Deleted between listing and lookup; nothing to ingest.
				f.logger.Debug("Submission gone before fetch, skipping", "submission_id", id)
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("backfill %s: %w", username, err)
	}

	user := &farss.User{Username: username, InitialisedAt: time.Now().UTC()}
	if err := f.store.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("save user %s: %w", username, err)
	}
	f.metrics.NewUserInits.Inc()
	f.logger.Info("User initialised",
		"username", username,
		"submissions", len(ids),
		"duration_ms", time.Since(start).Milliseconds())
	return user, nil
}

// listUserSubmissionIDs gathers the four listings (gallery and scraps, in
// both visibility modes) concurrently, then unions and dedupes the IDs.
func (f *Fetcher) listUserSubmissionIDs(ctx context.Context, username string) ([]int64, error) {
	listings := make([][]int64, 4)
	fetch := []func(context.Context) ([]int64, error){
		func(ctx context.Context) ([]int64, error) { return f.api.GalleryIDs(ctx, username, false) },
		func(ctx context.Context) ([]int64, error) { return f.api.ScrapsIDs(ctx, username, false) },
		func(ctx context.Context) ([]int64, error) { return f.api.GalleryIDs(ctx, username, true) },
		func(ctx context.Context) ([]int64, error) { return f.api.ScrapsIDs(ctx, username, true) },
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, fn := range fetch {
		g.Go(func() error {
			ids, err := fn(gctx)
			if err != nil {
				return err
			}
			listings[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var ids []int64
	for _, listing := range listings {
		for _, id := range listing {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids, nil
}

func (f *Fetcher) markInFlight(username string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.inFlight[username]; ok {
		return false
	}
	f.inFlight[username] = struct{}{}
	return true
}

func (f *Fetcher) clearInFlight(username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inFlight, username)
}
