package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/ondemand-crawler/internal/content"
	"github.com/JakeFAU/ondemand-crawler/internal/source"
)

// SocialTitleChars is the length of the text prefix used as a post title.
const SocialTitleChars = 100

// Default source names applied when a raw item does not carry one.
const (
	DefaultNewsSource   = "News"
	DefaultVideoSource  = "YouTube"
	DefaultSocialSource = "Social"
)

// Normalize maps a raw item onto the canonical record. Text is not yet
// cleaned and topics are not yet assigned.
func Normalize(item source.RawItem) (content.Content, error) {
	var (
		c   content.Content
		err error
	)
	switch v := item.(type) {
	case source.NewsArticle:
		c = mapNews(v)
	case source.Video:
		c = mapVideo(v)
	case source.Post:
		c = mapPost(v)
	case nil:
		return content.Content{}, errors.Join(content.ErrInvalidItem, errors.New("nil raw item"))
	default:
		return content.Content{}, errors.Join(content.ErrInvalidItem, fmt.Errorf("unsupported raw item %T", item))
	}
	c.RawMetadata, err = json.Marshal(item)
	if err != nil {
		return content.Content{}, fmt.Errorf("marshal raw metadata: %w", err)
	}
	if err := c.Validate(); err != nil {
		return content.Content{}, err
	}
	return c, nil
}

func mapNews(a source.NewsArticle) content.Content {
	text := a.Text
	if text == "" {
		text = a.Summary
	}
	return content.Content{
		ExternalID:  a.URL,
		Title:       a.Title,
		Text:        text,
		SourceType:  content.SourceNews,
		SourceName:  orDefault(a.Source, DefaultNewsSource),
		URL:         a.URL,
		PublishedAt: a.PublishedAt,
	}
}

func mapVideo(v source.Video) content.Content {
	return content.Content{
		ExternalID:  v.ID,
		Title:       v.Title,
		Text:        v.Description,
		SourceType:  content.SourceVideo,
		SourceName:  orDefault(v.Channel, DefaultVideoSource),
		URL:         v.URL,
		PublishedAt: v.PublishedAt,
	}
}

func mapPost(p source.Post) content.Content {
	return content.Content{
		ExternalID:  p.ID,
		Title:       content.Prefix(p.Text, SocialTitleChars),
		Text:        p.Text,
		SourceType:  content.SourceSocial,
		SourceName:  orDefault(p.Network, DefaultSocialSource),
		URL:         p.URL,
		PublishedAt: p.PublishedAt,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
