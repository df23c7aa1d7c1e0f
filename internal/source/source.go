// Package source declares the raw item variants produced by upstream fetchers
// and the Fetcher capability the orchestrator drives.
package source

import (
	"context"
	"time"

	"github.com/JakeFAU/ondemand-crawler/internal/content"
)

// RawItem is an unnormalized payload from one fetcher. The set of variants is
// closed: only types in this package implement it.
type RawItem interface {
	Kind() content.SourceType
	rawItem()
}

// Fetcher returns raw items for a query from one external source kind.
type Fetcher interface {
	Kind() content.SourceType
	Fetch(ctx context.Context, query string, maxResults int) ([]RawItem, error)
}

// NewsArticle is a news result with its extracted body.
type NewsArticle struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Text        string     `json:"text"`
	Summary     string     `json:"summary,omitempty"`
	Source      string     `json:"source,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Kind implements RawItem.
func (NewsArticle) Kind() content.SourceType { return content.SourceNews }
func (NewsArticle) rawItem()                 {}

// Video is a video search result.
type Video struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	URL         string     `json:"url"`
	Channel     string     `json:"channel,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Kind implements RawItem.
func (Video) Kind() content.SourceType { return content.SourceVideo }
func (Video) rawItem()                 {}

// Post is a social network post. Posts carry no title of their own.
type Post struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	URL         string     `json:"url"`
	Author      string     `json:"author,omitempty"`
	Community   string     `json:"community,omitempty"`
	Network     string     `json:"network,omitempty"`
	Score       int        `json:"score,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Kind implements RawItem.
func (Post) Kind() content.SourceType { return content.SourceSocial }
func (Post) rawItem()                 {}
