package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"fa-rss/faexport"
	"fa-rss/pkg/farss"
)

// watchAPI is a fake API for watcher tests. Missing submission IDs are
// served as not-found; challenges maps an ID to a number of Cloudflare
// errors to serve before succeeding.
type watchAPI struct {
	mu               sync.Mutex
	subs             map[int64]farss.Submission
	latest           int64
	latestChallenges int
	challenges       map[int64]int
	subCalls         map[int64]int
}

func newWatchAPI(latest int64, subs map[int64]farss.Submission) *watchAPI {
	return &watchAPI{
		subs:       subs,
		latest:     latest,
		challenges: make(map[int64]int),
		subCalls:   make(map[int64]int),
	}
}

func cloudflareErr() error {
	return &faexport.APIError{Kind: faexport.KindCloudflare, Tag: "fa_cloudflare"}
}

func (a *watchAPI) Submission(_ context.Context, id int64) (farss.Submission, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subCalls[id]++
	if a.challenges[id] > 0 {
		a.challenges[id]--
		return farss.Submission{}, cloudflareErr()
	}
	sub, ok := a.subs[id]
	if !ok {
		return farss.Submission{}, &faexport.APIError{Kind: faexport.KindNotFound, Tag: "fa_not_found"}
	}
	return sub, nil
}

func (a *watchAPI) GalleryIDs(_ context.Context, _ string, _ bool) ([]int64, error) {
	return nil, nil
}

func (a *watchAPI) ScrapsIDs(_ context.Context, _ string, _ bool) ([]int64, error) {
	return nil, nil
}

func (a *watchAPI) LatestSubmissionID(_ context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latestChallenges > 0 {
		a.latestChallenges--
		return 0, cloudflareErr()
	}
	return a.latest, nil
}

// memSettings is an in-memory checkpoint for watcher tests.
type memSettings struct {
	mu      sync.Mutex
	id      int64
	ok      bool
	updates []int64
}

func (s *memSettings) LatestSubmissionID(_ context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.ok, nil
}

func (s *memSettings) UpdateLatestSubmissionID(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.ok = true
	s.updates = append(s.updates, id)
	return nil
}

func testWatcher(api API, st Store, settings Settings) *Watcher {
	w := NewWatcher(api, st, settings, newTestMetrics(), slog.Default())
	w.ChallengeBackoff = time.Millisecond
	return w
}

// TestWatcherSeedsCheckpoint: the first ever cycle anchors at the current
// head without backfilling history.
func TestWatcherSeedsCheckpoint(t *testing.T) {
	t.Parallel()

	api := newWatchAPI(500, nil)
	st := newMemStore()
	settings := &memSettings{}

	w := testWatcher(api, st, settings)
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("cycle() returned error: %v", err)
	}
	if !settings.ok || settings.id != 500 {
		t.Errorf("checkpoint after seeding = %d ok=%v, want 500", settings.id, settings.ok)
	}
	if len(api.subCalls) != 0 {
		t.Errorf("seeding cycle fetched %d submissions, want 0", len(api.subCalls))
	}
}

// TestWatcherEmptyHomePage: a cycle that sees no submissions at all must
// not move the checkpoint.
func TestWatcherEmptyHomePage(t *testing.T) {
	t.Parallel()

	api := newWatchAPI(0, nil)
	settings := &memSettings{}

	w := testWatcher(api, newMemStore(), settings)
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("cycle() returned error: %v", err)
	}
	if settings.ok {
		t.Errorf("checkpoint seeded from an empty home page: %d", settings.id)
	}
}

// TestWatcherProcessesRange ingests every ID between the checkpoint and
// the latest, counting deleted gaps as processed.
func TestWatcherProcessesRange(t *testing.T) {
	t.Parallel()

	subs := map[int64]farss.Submission{}
	for _, id := range []int64{101, 102, 104, 105} { // 103 deleted
		subs[id] = farss.Submission{
			ID:       id,
			Username: "somedude",
			Gallery:  farss.GalleryMain,
			PostedAt: time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC),
		}
	}
	api := newWatchAPI(105, subs)
	st := newMemStore()
	settings := &memSettings{id: 100, ok: true}

	w := testWatcher(api, st, settings)
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("cycle() returned error: %v", err)
	}

	for _, id := range []int64{101, 102, 104, 105} {
		if _, ok := st.subs[id]; !ok {
			t.Errorf("submission %d not persisted", id)
		}
	}
	if _, ok := st.subs[103]; ok {
		t.Error("deleted submission 103 was persisted")
	}
	if settings.id != 105 {
		t.Errorf("checkpoint after cycle = %d, want 105", settings.id)
	}
	// The checkpoint advances after every ID, deleted ones included.
	if want := []int64{101, 102, 103, 104, 105}; !cmp.Equal(settings.updates, want) {
		t.Errorf("checkpoint updates = %v, want %v", settings.updates, want)
	}
	if got := testutil.ToFloat64(w.metrics.SubmissionsSaved); got != 4 {
		t.Errorf("saved counter = %v, want 4", got)
	}
	if got := testutil.ToFloat64(w.metrics.SubmissionsDeleted); got != 1 {
		t.Errorf("deleted counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(w.metrics.LatestSubmissionID); got != 105 {
		t.Errorf("latest ID gauge = %v, want 105", got)
	}
}

// TestWatcherNothingNew leaves everything untouched when the head has not
// moved.
func TestWatcherNothingNew(t *testing.T) {
	t.Parallel()

	api := newWatchAPI(100, nil)
	settings := &memSettings{id: 100, ok: true}

	w := testWatcher(api, newMemStore(), settings)
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("cycle() returned error: %v", err)
	}
	if len(settings.updates) != 0 {
		t.Errorf("checkpoint updated %d times with nothing new, want 0", len(settings.updates))
	}
	if len(api.subCalls) != 0 {
		t.Errorf("fetched %d submissions with nothing new, want 0", len(api.subCalls))
	}
}

// TestWatcherResumesFromCheckpoint: a fresh watcher picks up exactly where
// the previous run stopped.
func TestWatcherResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	subs := map[int64]farss.Submission{}
	for id := int64(101); id <= 105; id++ {
		subs[id] = farss.Submission{ID: id, Username: "somedude", Gallery: farss.GalleryMain, PostedAt: time.Unix(0, 0)}
	}
	api := newWatchAPI(105, subs)
	st := newMemStore()
	settings := &memSettings{id: 102, ok: true}

	// A different watcher instance, as after a restart.
	w := testWatcher(api, st, settings)
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("cycle() returned error: %v", err)
	}
	for _, id := range []int64{101, 102} {
		if api.subCalls[id] != 0 {
			t.Errorf("submission %d re-fetched after restart", id)
		}
	}
	for _, id := range []int64{103, 104, 105} {
		if api.subCalls[id] != 1 {
			t.Errorf("submission %d fetched %d times, want 1", id, api.subCalls[id])
		}
	}
	if settings.id != 105 {
		t.Errorf("checkpoint after resume = %d, want 105", settings.id)
	}
}

// TestWatcherCheckpointSurvivesMidRangeFailure: a failing save aborts the
// cycle, but everything processed before it stays checkpointed so the next
// cycle re-fetches only the failed ID onwards.
func TestWatcherCheckpointSurvivesMidRangeFailure(t *testing.T) {
	t.Parallel()

	subs := map[int64]farss.Submission{}
	for id := int64(101); id <= 105; id++ {
		subs[id] = farss.Submission{ID: id, Username: "somedude", Gallery: farss.GalleryMain, PostedAt: time.Unix(0, 0)}
	}
	api := newWatchAPI(105, subs)
	st := newMemStore()
	st.saveErr = errors.New("disk full")
	st.failID = 103
	settings := &memSettings{id: 100, ok: true}

	w := testWatcher(api, st, settings)
	if err := w.cycle(context.Background()); err == nil {
		t.Fatal("cycle() = nil error, want save failure")
	}
	if settings.id != 102 {
		t.Errorf("checkpoint after failed cycle = %d, want 102", settings.id)
	}

	// Clear the fault; the next cycle finishes the range.
	st.mu.Lock()
	st.saveErr = nil
	st.mu.Unlock()
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("recovery cycle() returned error: %v", err)
	}
	if settings.id != 105 {
		t.Errorf("checkpoint after recovery = %d, want 105", settings.id)
	}
	if api.subCalls[102] != 1 {
		t.Errorf("submission 102 fetched %d times, want 1 (before the fault only)", api.subCalls[102])
	}
}

// TestWatcherOutlastsCloudflareChallenges retries through challenges on
// both the head observation and submission fetches.
func TestWatcherOutlastsCloudflareChallenges(t *testing.T) {
	t.Parallel()

	subs := map[int64]farss.Submission{
		101: {ID: 101, Username: "somedude", Gallery: farss.GalleryMain, PostedAt: time.Unix(0, 0)},
	}
	api := newWatchAPI(101, subs)
	api.latestChallenges = 2
	api.challenges[101] = 3
	st := newMemStore()
	settings := &memSettings{id: 100, ok: true}

	w := testWatcher(api, st, settings)
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("cycle() returned error: %v", err)
	}
	if _, ok := st.subs[101]; !ok {
		t.Error("submission 101 not persisted after challenges cleared")
	}
	if api.subCalls[101] != 4 {
		t.Errorf("submission 101 fetched %d times, want 4 (3 challenges + success)", api.subCalls[101])
	}
	if settings.id != 101 {
		t.Errorf("checkpoint = %d, want 101", settings.id)
	}
}

// TestWatcherRunStopsOnCancel: Run exits promptly when the context is
// cancelled mid-sleep.
func TestWatcherRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	api := newWatchAPI(0, nil)
	w := testWatcher(api, newMemStore(), &memSettings{})
	w.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}
}
