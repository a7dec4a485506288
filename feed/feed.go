// Package feed renders stored submissions and upstream previews as RSS 2.0
// documents.
package feed

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gorilla/feeds"

	"fa-rss/pkg/farss"
)

const (
	siteURL           = "https://www.furaffinity.net"
	notFoundThumbnail = "https://t.furaffinity.net/notfound.jpg"

	// Shown while a first-time user's backlog is still being ingested.
	initialisingDescription = "(Description not yet available, RSS feed initialising)"
)

// Feed wraps a gorilla feed with the per-item keyword categories RSS can
// carry but the generic feeds.Item cannot express.
type Feed struct {
	*feeds.Feed
	categories [][]string // aligned with Items; nil entries render nothing
}

// UserGallery builds the feed for one user's gallery or scraps folder from
// stored submissions.
func UserGallery(username, gallery string, subs []farss.Submission, now time.Time) *Feed {
	f := &Feed{Feed: &feeds.Feed{
		Title:       fmt.Sprintf("%s's %s on FurAffinity", username, gallery),
		Link:        &feeds.Link{Href: fmt.Sprintf("%s/%s/%s/", siteURL, gallery, username)},
		Description: fmt.Sprintf("Submissions in the %s of %s", gallery, username),
		Created:     now,
	}}
	for _, sub := range subs {
		f.Items = append(f.Items, submissionItem(sub))
		f.categories = append(f.categories, sub.Keywords)
	}
	return f
}

// UserGalleryPreview builds a provisional feed from upstream listing
// previews, used while a first-time user is still initialising.
func UserGalleryPreview(username, gallery string, previews []farss.SubmissionPreview, now time.Time) *Feed {
	f := &Feed{Feed: &feeds.Feed{
		Title:       fmt.Sprintf("%s's %s on FurAffinity", username, gallery),
		Link:        &feeds.Link{Href: fmt.Sprintf("%s/%s/%s/", siteURL, gallery, username)},
		Description: fmt.Sprintf("Submissions in the %s of %s", gallery, username),
		Created:     now,
	}}
	for _, preview := range previews {
		link := preview.Link
		if link == "" {
			link = viewLink(preview.ID)
		}
		item := &feeds.Item{
			Title:       preview.Title,
			Link:        &feeds.Link{Href: link},
			Id:          link,
			Description: initialisingDescription,
		}
		if preview.ThumbnailURL != "" {
			item.Enclosure = &feeds.Enclosure{Url: preview.ThumbnailURL, Type: "image/jpeg", Length: "0"}
		}
		f.Items = append(f.Items, item)
	}
	return f
}

// Browse builds the site-wide feed of the most recently ingested
// submissions.
func Browse(subs []farss.Submission, now time.Time) *Feed {
	f := &Feed{Feed: &feeds.Feed{
		Title:       "Browse submissions on FurAffinity",
		Link:        &feeds.Link{Href: siteURL + "/browse/"},
		Description: "The latest submissions published on FurAffinity",
		Created:     now,
	}}
	for _, sub := range subs {
		f.Items = append(f.Items, submissionItem(sub))
		f.categories = append(f.categories, sub.Keywords)
	}
	return f
}

func submissionItem(sub farss.Submission) *feeds.Item {
	link := viewLink(sub.ID)
	return &feeds.Item{
		Title:       sub.Title,
		Link:        &feeds.Link{Href: link},
		Id:          link,
		Author:      &feeds.Author{Name: sub.Username},
		Description: AbsolutizeLinks(sub.Description),
		Created:     sub.PostedAt,
		Enclosure:   &feeds.Enclosure{Url: ThumbnailURL(sub), Type: "image/jpeg", Length: "0"},
	}
}

func viewLink(id int64) string {
	return fmt.Sprintf("%s/view/%d/", siteURL, id)
}

// rssItem extends the gorilla RSS item with one category element per
// submission keyword. RssItem.Category is a single string, so multiple
// categories need their own field.
type rssItem struct {
	*feeds.RssItem
	Categories []string `xml:"category,omitempty"`
}

type rssChannel struct {
	XMLName     xml.Name   `xml:"channel"`
	Title       string     `xml:"title"`
	Link        string     `xml:"link"`
	Description string     `xml:"description"`
	PubDate     string     `xml:"pubDate,omitempty"`
	Items       []*rssItem `xml:"item"`
}

type rssDocument struct {
	XMLName          xml.Name `xml:"rss"`
	Version          string   `xml:"version,attr"`
	ContentNamespace string   `xml:"xmlns:content,attr"`
	Channel          *rssChannel
}

// ToRss renders the feed as RSS 2.0, attaching each item's keywords as
// category elements.
func (f *Feed) ToRss() (string, error) {
	rf := (&feeds.Rss{Feed: f.Feed}).RssFeed()
	channel := &rssChannel{
		Title:       rf.Title,
		Link:        rf.Link,
		Description: rf.Description,
		PubDate:     rf.PubDate,
	}
	for i, item := range rf.Items {
		ri := &rssItem{RssItem: item}
		if i < len(f.categories) {
			ri.Categories = f.categories[i]
		}
		channel.Items = append(channel.Items, ri)
	}

	data, err := xml.MarshalIndent(rssDocument{
		Version:          "2.0",
		ContentNamespace: "http://purl.org/rss/1.0/modules/content/",
		Channel:          channel,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	return xml.Header + string(data), nil
}

// ThumbnailURL returns the submission's thumbnail, deriving one from the
// download URL for submission types FA serves without a thumbnail.
func ThumbnailURL(sub farss.Submission) string {
	if sub.ThumbnailURL != "" {
		return sub.ThumbnailURL
	}
	pattern := regexp.MustCompile(`/` + regexp.QuoteMeta(sub.Username) + `/([0-9]+)/`)
	match := pattern.FindStringSubmatch(sub.DownloadURL)
	if match == nil {
		return notFoundThumbnail
	}
	return fmt.Sprintf("https://t.furaffinity.net/%d@600-%s.jpg", sub.ID, match[1])
}

// AbsolutizeLinks rewrites the site-relative hrefs and image sources FA
// embeds in description HTML so they resolve inside feed readers. The
// input is returned unchanged if it cannot be parsed.
func AbsolutizeLinks(description string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(description))
	if err != nil {
		return description
	}
	doc.Find("a[href], img[src]").Each(func(_ int, sel *goquery.Selection) {
		for _, attr := range []string{"href", "src"} {
			value, ok := sel.Attr(attr)
			if ok && strings.HasPrefix(value, "/") && !strings.HasPrefix(value, "//") {
				sel.SetAttr(attr, siteURL+value)
			}
		}
	})
	rewritten, err := doc.Find("body").Html()
	if err != nil {
		return description
	}
	return rewritten
}
