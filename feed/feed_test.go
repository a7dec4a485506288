package feed

import (
	"strings"
	"testing"
	"time"

	"fa-rss/pkg/farss"
)

func TestThumbnailURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sub  farss.Submission
		want string
	}{
		{
			name: "existing thumbnail wins",
			sub: farss.Submission{
				ID:           12345,
				Username:     "fender",
				ThumbnailURL: "https://t.furaffinity.net/12345@400-98765.jpg",
				DownloadURL:  "https://d.furaffinity.net/art/fender/12345/98765.fender_pic.png",
			},
			want: "https://t.furaffinity.net/12345@400-98765.jpg",
		},
		{
			name: "derived from download url",
			sub: farss.Submission{
				ID:          12345,
				Username:    "fender",
				DownloadURL: "https://d.furaffinity.net/download/art/fender/1465064/98765.fender.story.txt",
			},
			want: "https://t.furaffinity.net/12345@600-1465064.jpg",
		},
		{
			name: "no derivable image",
			sub: farss.Submission{
				ID:          12345,
				Username:    "fender",
				DownloadURL: "https://d.furaffinity.net/art/somebodyelse/555/file.png",
			},
			want: notFoundThumbnail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ThumbnailURL(tt.sub); got != tt.want {
				t.Errorf("ThumbnailURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAbsolutizeLinks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "relative href",
			in:   `<a href="/user/fender/">Fender</a>`,
			want: `<a href="https://www.furaffinity.net/user/fender/">Fender</a>`,
		},
		{
			name: "relative img src",
			in:   `<img src="/avatar.jpg"/>`,
			want: `<img src="https://www.furaffinity.net/avatar.jpg"/>`,
		},
		{
			name: "absolute href untouched",
			in:   `<a href="https://example.com/page">elsewhere</a>`,
			want: `<a href="https://example.com/page">elsewhere</a>`,
		},
		{
			name: "protocol-relative untouched",
			in:   `<a href="//example.com/page">elsewhere</a>`,
			want: `<a href="//example.com/page">elsewhere</a>`,
		},
		{
			name: "plain text passes through",
			in:   `just words`,
			want: `just words`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := AbsolutizeLinks(tt.in); got != tt.want {
				t.Errorf("AbsolutizeLinks(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestUserGallery(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	subs := []farss.Submission{{
		ID:           12345,
		Username:     "fender",
		Gallery:      farss.GalleryMain,
		Title:        "Fender portrait",
		Description:  `See <a href="/user/fender/">my page</a>`,
		ThumbnailURL: "https://t.furaffinity.net/12345@400-1.jpg",
		PostedAt:     now.Add(-time.Hour),
	}}

	f := UserGallery("fender", farss.GalleryMain, subs, now)
	if want := "fender's gallery on FurAffinity"; f.Title != want {
		t.Errorf("feed title = %q, want %q", f.Title, want)
	}
	if want := "https://www.furaffinity.net/gallery/fender/"; f.Link.Href != want {
		t.Errorf("feed link = %q, want %q", f.Link.Href, want)
	}
	if len(f.Items) != 1 {
		t.Fatalf("got %d items, want 1", len(f.Items))
	}
	item := f.Items[0]
	if want := "https://www.furaffinity.net/view/12345/"; item.Link.Href != want || item.Id != want {
		t.Errorf("item link = %q id = %q, want both %q", item.Link.Href, item.Id, want)
	}
	if item.Author.Name != "fender" {
		t.Errorf("item author = %q, want fender", item.Author.Name)
	}
	if !strings.Contains(item.Description, "https://www.furaffinity.net/user/fender/") {
		t.Errorf("item description not absolutized: %q", item.Description)
	}
	if item.Enclosure == nil || item.Enclosure.Url != "https://t.furaffinity.net/12345@400-1.jpg" {
		t.Errorf("item enclosure = %+v, want the thumbnail", item.Enclosure)
	}

	// The whole thing has to render as RSS.
	rss, err := f.ToRss()
	if err != nil {
		t.Fatalf("ToRss() returned error: %v", err)
	}
	if !strings.Contains(rss, "<rss") {
		t.Errorf("ToRss() output missing rss element:\n%s", rss)
	}
}

func TestUserGalleryPreview(t *testing.T) {
	t.Parallel()

	now := time.Now()
	previews := []farss.SubmissionPreview{
		{
			ID:           30003,
			Title:        "New piece",
			ThumbnailURL: "https://t.furaffinity.net/30003@300-99.jpg",
			Link:         "https://www.furaffinity.net/view/30003/",
			Username:     "somedude",
		},
		{ID: 30002, Title: "No link or thumb", Username: "somedude"},
	}

	f := UserGalleryPreview("somedude", farss.GalleryScraps, previews, now)
	if want := "somedude's scraps on FurAffinity"; f.Title != want {
		t.Errorf("feed title = %q, want %q", f.Title, want)
	}
	if len(f.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(f.Items))
	}
	for _, item := range f.Items {
		if item.Description != initialisingDescription {
			t.Errorf("preview item description = %q, want the initialising notice", item.Description)
		}
	}
	if f.Items[0].Enclosure == nil {
		t.Error("preview with a thumbnail lost its enclosure")
	}
	if f.Items[1].Enclosure != nil {
		t.Error("preview without a thumbnail gained an enclosure")
	}
	if want := "https://www.furaffinity.net/view/30002/"; f.Items[1].Link.Href != want {
		t.Errorf("fallback link = %q, want %q", f.Items[1].Link.Href, want)
	}
}

// TestRssCategories renders submission keywords as one category element
// each; preview items, which carry no keywords, get none.
func TestRssCategories(t *testing.T) {
	t.Parallel()

	subs := []farss.Submission{{
		ID:       12345,
		Username: "fender",
		Gallery:  farss.GalleryMain,
		Title:    "Fender portrait",
		PostedAt: time.Unix(0, 0),
		Keywords: []string{"fender", "portrait"},
	}}
	rss, err := UserGallery("fender", farss.GalleryMain, subs, time.Now()).ToRss()
	if err != nil {
		t.Fatalf("ToRss() returned error: %v", err)
	}
	for _, keyword := range []string{"fender", "portrait"} {
		if want := "<category>" + keyword + "</category>"; !strings.Contains(rss, want) {
			t.Errorf("rendered feed missing %s:\n%s", want, rss)
		}
	}
	if got := strings.Count(rss, "<category>"); got != 2 {
		t.Errorf("rendered feed has %d category elements, want 2", got)
	}

	previews := []farss.SubmissionPreview{{ID: 30003, Title: "New piece", Username: "somedude"}}
	rss, err = UserGalleryPreview("somedude", farss.GalleryMain, previews, time.Now()).ToRss()
	if err != nil {
		t.Fatalf("preview ToRss() returned error: %v", err)
	}
	if strings.Contains(rss, "<category>") {
		t.Errorf("preview feed grew category elements:\n%s", rss)
	}
}

func TestBrowse(t *testing.T) {
	t.Parallel()

	f := Browse([]farss.Submission{{ID: 1, Username: "a", PostedAt: time.Unix(0, 0)}}, time.Now())
	if want := "https://www.furaffinity.net/browse/"; f.Link.Href != want {
		t.Errorf("browse link = %q, want %q", f.Link.Href, want)
	}
	if len(f.Items) != 1 {
		t.Errorf("got %d items, want 1", len(f.Items))
	}
}
