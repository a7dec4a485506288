// Package metrics defines the prometheus collectors the service reports
// to. The set is injected into components rather than registered globally
// so tests can use private registries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service emits.
type Metrics struct {
	SubmissionsSaved   prometheus.Counter
	SubmissionsDeleted prometheus.Counter
	WatcherStartTime   prometheus.Gauge
	LatestSubmissionID prometheus.Gauge
	LatestPostedAt     prometheus.Gauge
	GalleryRequests    *prometheus.CounterVec
	NewUserInits       prometheus.Counter
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SubmissionsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "farss_watcher_submissions_saved_total",
			Help: "Submissions fetched and persisted by the data watcher.",
		}),
		SubmissionsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "farss_watcher_submissions_deleted_total",
			Help: "Submission IDs that were already deleted when the watcher looked them up.",
		}),
		WatcherStartTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "farss_watcher_start_time_seconds",
			Help: "Unix time at which the data watcher started.",
		}),
		LatestSubmissionID: factory.NewGauge(prometheus.GaugeOpts{
			Name: "farss_watcher_latest_submission_id",
			Help: "Highest submission ID fully processed by the watcher.",
		}),
		LatestPostedAt: factory.NewGauge(prometheus.GaugeOpts{
			Name: "farss_watcher_latest_posted_at_seconds",
			Help: "Posted-at time of the most recently processed submission, as unix time.",
		}),
		GalleryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "farss_server_gallery_request_count",
			Help: "Requests for gallery RSS feeds.",
		}, []string{"gallery"}),
		NewUserInits: factory.NewCounter(prometheus.CounterOpts{
			Name: "farss_server_gallery_new_user_count",
			Help: "Times a previously unseen user has been initialised.",
		}),
	}
}
