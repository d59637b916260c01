// Package feed renders the catalog's ready articles as a podcast RSS
// document.
package feed

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gorilla/feeds"

	"github.com/dgnsrekt/articast/internal/store"
)

// Meta is the feed-level metadata, taken from configuration.
type Meta struct {
	Title       string
	Description string
	// BaseURL is the externally reachable server root; enclosure URLs
	// are built under it.
	BaseURL string
}

// AudioURL returns the enclosure URL for an article id.
func (m Meta) AudioURL(id string) string {
	return strings.TrimRight(m.BaseURL, "/") + "/api/articles/" + id + "/audio"
}

// Render produces the RSS document for the given articles. Articles
// that are not ready, or carry no blob metadata, are skipped. Callers
// pass articles in newest-first order; Render preserves it.
func Render(meta Meta, articles []store.Article) (string, error) {
	f := &feeds.Feed{
		Title:       meta.Title,
		Description: meta.Description,
		Link:        &feeds.Link{Href: meta.BaseURL},
	}

	for _, a := range articles {
		if a.Status != store.StatusReady || a.Audio == nil {
			continue
		}
		item := &feeds.Item{
			Id:      a.ID,
			Title:   a.Title,
			Created: a.CreatedAt,
			Link:    &feeds.Link{Href: meta.AudioURL(a.ID)},
			Enclosure: &feeds.Enclosure{
				Url:    meta.AudioURL(a.ID),
				Length: strconv.FormatInt(a.Audio.ByteLen, 10),
				Type:   "audio/mpeg",
			},
		}
		if a.Byline != "" {
			item.Author = &feeds.Author{Name: a.Byline}
		}
		if a.SourceURL != "" {
			item.Description = a.SourceURL
		}
		f.Items = append(f.Items, item)
	}

	rss, err := f.ToRss()
	if err != nil {
		return "", fmt.Errorf("rendering feed: %w", err)
	}
	return rss, nil
}
