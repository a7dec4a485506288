// Package faexport is a client for the FAExport JSON API, the scraping
// proxy in front of FurAffinity. Every request is spaced by a FIFO rate
// limiter, throttled further while FA reports heavy load, and retried with
// exponential backoff when FA explicitly signals overload.
package faexport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"fa-rss/pkg/farss"
)

const (
	defaultMaxAttempts = 7
	defaultRetryDelay  = 2 * time.Second
	maxResponseBytes   = 16 << 20
)

// Config controls a Client. Zero values fall back to defaults; a zero
// RequestInterval disables the hard per-client rate limit.
type Config struct {
	BaseURL string

	// RequestInterval spaces all requests from this client. Background
	// bulk clients (the watcher) set this; interactive clients leave it 0.
	RequestInterval time.Duration

	// Slowdown detection. IgnoreSlowdown is for priority clients that
	// must never be throttled by site load.
	SlowdownInterval   time.Duration
	StatusCheckBackoff time.Duration
	RegisteredLimit    int
	IgnoreSlowdown     bool

	MaxAttempts uint
	RetryDelay  time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to an FAExport instance.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *RateLimiter // nil when no hard limit configured
	slowdown    *Slowdown
	logger      *slog.Logger
	maxAttempts uint
	retryDelay  time.Duration
}

// New creates a client for the FAExport instance at cfg.BaseURL.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = defaultRetryDelay
	}

	c := &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:  httpClient,
		logger:      logger,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
	if cfg.RequestInterval > 0 {
		c.limiter = NewRateLimiter(cfg.RequestInterval)
	}
	c.slowdown = newSlowdown(c, logger, cfg.RegisteredLimit, cfg.StatusCheckBackoff, cfg.SlowdownInterval, cfg.IgnoreSlowdown)
	return c
}

// Submission fetches a single submission by ID.
func (c *Client) Submission(ctx context.Context, id int64) (farss.Submission, error) {
	c.logger.Debug("Fetching submission from FAExport", "submission_id", id)
	var payload submissionPayload
	if err := c.getWithRetry(ctx, fmt.Sprintf("/submission/%d.json", id), &payload); err != nil {
		return farss.Submission{}, err
	}
	return payload.toSubmission(id)
}

// GalleryIDs lists submission IDs in a user's main gallery, newest first.
func (c *Client) GalleryIDs(ctx context.Context, username string, sfw bool) ([]int64, error) {
	return c.listingIDs(ctx, username, farss.GalleryMain, sfw)
}

// ScrapsIDs lists submission IDs in a user's scraps folder, newest first.
func (c *Client) ScrapsIDs(ctx context.Context, username string, sfw bool) ([]int64, error) {
	return c.listingIDs(ctx, username, farss.GalleryScraps, sfw)
}

func (c *Client) listingIDs(ctx context.Context, username, gallery string, sfw bool) ([]int64, error) {
	c.logger.Debug("Fetching listing from FAExport", "username", username, "gallery", gallery, "sfw", sfw)
	var ids []flexID
	if err := c.getWithRetry(ctx, listingPath(username, gallery, sfw, false), &ids); err != nil {
		return nil, err
	}
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out, nil
}

// GalleryPreviews lists a user's main gallery with titles and thumbnails.
func (c *Client) GalleryPreviews(ctx context.Context, username string, sfw bool) ([]farss.SubmissionPreview, error) {
	return c.listingPreviews(ctx, username, farss.GalleryMain, sfw)
}

// ScrapsPreviews lists a user's scraps folder with titles and thumbnails.
func (c *Client) ScrapsPreviews(ctx context.Context, username string, sfw bool) ([]farss.SubmissionPreview, error) {
	return c.listingPreviews(ctx, username, farss.GalleryScraps, sfw)
}

func (c *Client) listingPreviews(ctx context.Context, username, gallery string, sfw bool) ([]farss.SubmissionPreview, error) {
	c.logger.Debug("Fetching full listing from FAExport", "username", username, "gallery", gallery, "sfw", sfw)
	var payloads []previewPayload
	if err := c.getWithRetry(ctx, listingPath(username, gallery, sfw, true), &payloads); err != nil {
		return nil, err
	}
	previews := make([]farss.SubmissionPreview, len(payloads))
	for i, p := range payloads {
		previews[i] = p.toPreview()
	}
	return previews, nil
}

func listingPath(username, gallery string, sfw, full bool) string {
	path := fmt.Sprintf("/user/%s/%s.json", url.PathEscape(farss.NormalizeUsername(username)), gallery)
	params := url.Values{}
	if full {
		params.Set("full", "1")
	}
	if sfw {
		params.Set("sfw", "1")
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return path
}

// Home fetches the home page snapshot: recently active submissions grouped
// by section (artwork, writing, music, crafts).
func (c *Client) Home(ctx context.Context) (map[string][]farss.SubmissionPreview, error) {
	c.logger.Debug("Fetching home page from FAExport")
	var payload map[string][]previewPayload
	if err := c.getWithRetry(ctx, "/home.json", &payload); err != nil {
		return nil, err
	}
	home := make(map[string][]farss.SubmissionPreview, len(payload))
	for section, entries := range payload {
		previews := make([]farss.SubmissionPreview, len(entries))
		for i, p := range entries {
			previews[i] = p.toPreview()
		}
		home[section] = previews
	}
	return home, nil
}

// LatestSubmissionID returns the highest submission ID visible on the home
// page, across all sections. Zero means the home page was empty.
func (c *Client) LatestSubmissionID(ctx context.Context) (int64, error) {
	home, err := c.Home(ctx)
	if err != nil {
		return 0, err
	}
	var latest int64
	for _, previews := range home {
		for _, p := range previews {
			if p.ID > latest {
				latest = p.ID
			}
		}
	}
	return latest, nil
}

// Status fetches FA's reported online user counts.
func (c *Client) Status(ctx context.Context) (farss.SiteStatus, error) {
	c.logger.Debug("Fetching status from FAExport")
	var payload statusPayload
	if err := c.getWithRetry(ctx, "/status.json", &payload); err != nil {
		return farss.SiteStatus{}, err
	}
	return payload.toStatus(), nil
}

// statusForSlowdown feeds the slowdown detector without re-entering it.
func (c *Client) statusForSlowdown(ctx context.Context) (int, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return 0, err
	}
	return status.OnlineRegistered, nil
}

// getWithRetry retries only explicit FA slowdown errors, with exponential
// backoff between attempts. Everything else propagates immediately.
func (c *Client) getWithRetry(ctx context.Context, path string, out any) error {
	return retry.Do(
		func() error { return c.get(ctx, path, out) },
		retry.Attempts(c.maxAttempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(2*time.Minute),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsSlowdown),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("FA returned slowdown error, retrying", "attempt", n, "path", path, "error", err)
		}),
	)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	// The status endpoint feeds the slowdown check, so it must never be
	// throttled by it.
	if !strings.Contains(path, "status.json") {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := c.slowdown.WaitIfNeeded(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "fa-rss")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("faexport request %s: %w", path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	c.logger.Debug("FAExport request completed",
		"path", path,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	// FAExport sits behind a gateway that serves HTML error pages when the
	// backend is down. Treat anything that is not JSON as the host being
	// unavailable rather than a decode failure.
	if !json.Valid(body) {
		return &APIError{
			Kind:    KindHostUnavailable,
			Message: fmt.Sprintf("non-JSON response (HTTP %d)", resp.StatusCode),
			Path:    path,
		}
	}

	var errPayload errorPayload
	if err := json.Unmarshal(body, &errPayload); err == nil && errPayload.ErrorType != "" {
		return fromErrorPayload(errPayload, path)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}
