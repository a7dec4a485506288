package store

import (
	"context"
	"fmt"
	"strconv"
)

// Setting keys.
const (
	keyFeedLength         = "feed_length"
	keyLatestSubmissionID = "latest_submission_id"

	// DefaultFeedLength is written back on first read so operators can
	// adjust it in the database.
	DefaultFeedLength = 20
)

// Settings exposes the typed settings the service cares about on top of
// the key/value table.
type Settings struct {
	store *Store
}

// NewSettings wraps a store.
func NewSettings(s *Store) *Settings {
	return &Settings{store: s}
}

// FeedLength returns how many items feeds should carry, seeding the
// default on first use.
func (s *Settings) FeedLength(ctx context.Context) (int, error) {
	value, ok, err := s.store.Setting(ctx, keyFeedLength)
	if err != nil {
		return 0, err
	}
	if ok {
		length, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid feed_length setting %q: %w", value, err)
		}
		return length, nil
	}
	if err := s.store.SetSetting(ctx, keyFeedLength, strconv.Itoa(DefaultFeedLength)); err != nil {
		return 0, err
	}
	return DefaultFeedLength, nil
}

// LatestSubmissionID returns the watcher checkpoint. ok is false when the
// watcher has never run.
func (s *Settings) LatestSubmissionID(ctx context.Context) (id int64, ok bool, err error) {
	value, ok, err := s.store.Setting(ctx, keyLatestSubmissionID)
	if err != nil || !ok {
		return 0, false, err
	}
	id, err = strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid latest_submission_id setting %q: %w", value, err)
	}
	return id, true, nil
}

// UpdateLatestSubmissionID advances the watcher checkpoint.
func (s *Settings) UpdateLatestSubmissionID(ctx context.Context, id int64) error {
	return s.store.SetSetting(ctx, keyLatestSubmissionID, strconv.FormatInt(id, 10))
}
