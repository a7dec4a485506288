// Package farss contains the core domain types for the FA RSS service.
package farss

import (
	"strings"
	"time"
)

// Gallery names as FurAffinity reports them.
const (
	GalleryMain   = "gallery"
	GalleryScraps = "scraps"
)

// RatingGeneral is the only rating included in SFW feeds.
const RatingGeneral = "General"

// Submission is a single FurAffinity submission as ingested from FAExport.
type Submission struct {
	PostedAt     time.Time `json:"posted_at"`
	Username     string    `json:"username"`      // Always lowercase
	Gallery      string    `json:"gallery"`       // "gallery" or "scraps"
	Title        string    `json:"title"`
	Description  string    `json:"description"`   // HTML fragment
	DownloadURL  string    `json:"download_url"`
	ThumbnailURL string    `json:"thumbnail_url"` // Empty for some text submissions
	Rating       string    `json:"rating"`
	Keywords     []string  `json:"keywords"`
	ID           int64     `json:"submission_id"`
}

// SubmissionPreview is the lighter listing entry returned by full-mode
// gallery listings. Used to render a feed before ingestion completes,
// never persisted.
type SubmissionPreview struct {
	Title        string
	ThumbnailURL string
	Link         string
	Username     string
	ID           int64
}

// User marks an account whose recent backlog has been ingested at least
// once. It is a marker, not a live mirror of the account.
type User struct {
	InitialisedAt time.Time `json:"initialised_at"`
	Username      string    `json:"username"` // Always lowercase
}

// SiteStatus is a transient snapshot of FurAffinity's reported load.
type SiteStatus struct {
	ServerTime       time.Time
	OnlineGuests     int
	OnlineRegistered int
	OnlineOther      int
	OnlineTotal      int
}

// NormalizeUsername lowercases a username the way FA treats profile names.
func NormalizeUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
