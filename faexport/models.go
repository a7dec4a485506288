package faexport

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"fa-rss/pkg/farss"
)

// timeLayouts covers the timestamp shapes FAExport has been seen to emit.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", value)
}

// flexID decodes an ID that FAExport serves as either a JSON number or a
// numeric string depending on the endpoint.
type flexID int64

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	id, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parse id: %w", err)
	}
	*f = flexID(id)
	return nil
}

// submissionPayload is the wire shape of /submission/{id}.json.
type submissionPayload struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ProfileName string   `json:"profile_name"`
	Gallery     string   `json:"gallery"`
	Download    string   `json:"download"`
	Thumbnail   string   `json:"thumbnail"`
	PostedAt    string   `json:"posted_at"`
	Rating      string   `json:"rating"`
	Keywords    []string `json:"keywords"`
}

func (p submissionPayload) toSubmission(id int64) (farss.Submission, error) {
	postedAt, err := parseTime(p.PostedAt)
	if err != nil {
		return farss.Submission{}, fmt.Errorf("submission %d posted_at: %w", id, err)
	}
	return farss.Submission{
		ID:           id,
		Username:     farss.NormalizeUsername(p.ProfileName),
		Gallery:      p.Gallery,
		Title:        p.Title,
		Description:  p.Description,
		DownloadURL:  p.Download,
		ThumbnailURL: p.Thumbnail,
		PostedAt:     postedAt,
		Rating:       p.Rating,
		Keywords:     p.Keywords,
	}, nil
}

// previewPayload is a listing entry from full-mode gallery listings and
// the home page sections.
type previewPayload struct {
	ID          flexID `json:"id"`
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail"`
	Link        string `json:"link"`
	ProfileName string `json:"profile_name"`
}

func (p previewPayload) toPreview() farss.SubmissionPreview {
	return farss.SubmissionPreview{
		ID:           int64(p.ID),
		Title:        p.Title,
		ThumbnailURL: p.Thumbnail,
		Link:         p.Link,
		Username:     farss.NormalizeUsername(p.ProfileName),
	}
}

// statusPayload is the wire shape of /status.json.
type statusPayload struct {
	Online struct {
		Guests     int `json:"guests"`
		Registered int `json:"registered"`
		Other      int `json:"other"`
		Total      int `json:"total"`
	} `json:"online"`
	FAServerTimeAt string `json:"fa_server_time_at"`
}

func (p statusPayload) toStatus() farss.SiteStatus {
	serverTime, err := parseTime(p.FAServerTimeAt)
	if err != nil {
		serverTime = time.Time{}
	}
	return farss.SiteStatus{
		OnlineGuests:     p.Online.Guests,
		OnlineRegistered: p.Online.Registered,
		OnlineOther:      p.Online.Other,
		OnlineTotal:      p.Online.Total,
		ServerTime:       serverTime,
	}
}
