// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fa-rss/faexport"
	"fa-rss/feed"
	"fa-rss/fetcher"
	"fa-rss/metrics"
	"fa-rss/pkg/farss"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "tmpl/*.tmpl"))

// Fetcher triggers first-time user initialisation.
type Fetcher interface {
	InitialiseUser(ctx context.Context, username string) (*farss.User, error)
}

// API is the upstream slice used to serve preview feeds while a user is
// still initialising.
type API interface {
	GalleryPreviews(ctx context.Context, username string, sfw bool) ([]farss.SubmissionPreview, error)
	ScrapsPreviews(ctx context.Context, username string, sfw bool) ([]farss.SubmissionPreview, error)
}

// Store is the read side of the persistence layer.
type Store interface {
	User(ctx context.Context, username string) (*farss.User, error)
	RecentSubmissions(ctx context.Context, limit int, sfwOnly bool) ([]farss.Submission, error)
	GallerySubmissions(ctx context.Context, username, gallery string, limit int, sfwOnly bool) ([]farss.Submission, error)
}

// Settings exposes the feed length knob.
type Settings interface {
	FeedLength(ctx context.Context) (int, error)
}

// Server handles HTTP requests.
type Server struct {
	fetcher  Fetcher
	api      API
	store    Store
	settings Settings
	metrics  *metrics.Metrics
	logger   *slog.Logger
	version  string
}

// Config holds server configuration.
type Config struct {
	Fetcher  Fetcher
	API      API
	Store    Store
	Settings Settings
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Version  string
}

// New creates the HTTP request handler set.
func New(cfg *Config) *Server {
	return &Server{
		fetcher:  cfg.Fetcher,
		api:      cfg.API,
		store:    cfg.Store,
		settings: cfg.Settings,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		version:  cfg.Version,
	}
}

// Handler builds the route table. metricsHandler serves /metrics; pass
// promhttp.HandlerFor on the service registry.
func (s *Server) Handler(metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /browse.rss", s.handleBrowse)
	mux.HandleFunc("GET /user/{username}/{feed}", s.handleGallery)
	mux.Handle("GET /metrics", metricsHandler)
	return mux
}

// Serve runs the HTTP server until ctx is cancelled, then drains it.
func (s *Server) Serve(ctx context.Context, addr string, metricsHandler http.Handler) error {
	// Timeouts prevent slow clients from exhausting connections.
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(metricsHandler),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	data := map[string]string{"Version": s.version}
	if err := templates.ExecuteTemplate(w, "home.tmpl", data); err != nil {
		s.logger.Error("Failed to render template", "template", "home.tmpl", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	length, err := s.settings.FeedLength(ctx)
	if err != nil {
		s.serveError(w, "load feed length", err)
		return
	}
	subs, err := s.store.RecentSubmissions(ctx, length, sfwRequested(r))
	if err != nil {
		s.serveError(w, "list recent submissions", err)
		return
	}
	s.serveFeed(w, feed.Browse(subs, time.Now()))
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := farss.NormalizeUsername(r.PathValue("username"))
	gallery, ok := strings.CutSuffix(r.PathValue("feed"), ".rss")
	if !ok || (gallery != farss.GalleryMain && gallery != farss.GalleryScraps) || username == "" {
		http.NotFound(w, r)
		return
	}
	s.metrics.GalleryRequests.WithLabelValues(gallery).Inc()
	sfw := sfwRequested(r)

	user, err := s.store.User(ctx, username)
	if err != nil {
		s.serveError(w, "load user", err)
		return
	}
	if user == nil {
		s.servePreviewFeed(w, r, username, gallery, sfw)
		return
	}

	length, err := s.settings.FeedLength(ctx)
	if err != nil {
		s.serveError(w, "load feed length", err)
		return
	}
	subs, err := s.store.GallerySubmissions(ctx, username, gallery, length, sfw)
	if err != nil {
		s.serveError(w, "list gallery submissions", err)
		return
	}
	s.serveFeed(w, feed.UserGallery(username, gallery, subs, time.Now()))
}

// servePreviewFeed handles the cold path: kick off the backlog ingestion
// in the background and serve a provisional feed from upstream previews so
// the first request still renders.
func (s *Server) servePreviewFeed(w http.ResponseWriter, r *http.Request, username, gallery string, sfw bool) {
	go func() {
		// Detached from the request: the initialisation outlives it and
		// applies its own timeout.
		_, err := s.fetcher.InitialiseUser(context.WithoutCancel(r.Context()), username)
		if err != nil && !errors.Is(err, fetcher.ErrInitInProgress) {
			s.logger.Warn("User initialisation failed", "username", username, "error", err)
		}
	}()

	var previews []farss.SubmissionPreview
	var err error
	if gallery == farss.GalleryScraps {
		previews, err = s.api.ScrapsPreviews(r.Context(), username, sfw)
	} else {
		previews, err = s.api.GalleryPreviews(r.Context(), username, sfw)
	}
	if err != nil {
		if faexport.IsUserGone(err) {
			http.NotFound(w, r)
			return
		}
		s.serveError(w, "fetch preview listing", err)
		return
	}
	s.serveFeed(w, feed.UserGalleryPreview(username, gallery, previews, time.Now()))
}

func (s *Server) serveFeed(w http.ResponseWriter, f *feed.Feed) {
	rss, err := f.ToRss()
	if err != nil {
		s.serveError(w, "render feed", err)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	if _, err := fmt.Fprint(w, rss); err != nil {
		s.logger.Warn("Failed to write feed response", "error", err)
	}
}

func (s *Server) serveError(w http.ResponseWriter, action string, err error) {
	s.logger.Error("Request failed", "action", action, "error", err)
	var apiErr *faexport.APIError
	if errors.As(err, &apiErr) {
		http.Error(w, "Upstream unavailable", http.StatusBadGateway)
		return
	}
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func sfwRequested(r *http.Request) bool {
	return r.URL.Query().Get("sfw") == "1"
}
