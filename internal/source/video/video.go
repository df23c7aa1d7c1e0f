// Package video searches YouTube for videos matching a query.
package video

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/JakeFAU/ondemand-crawler/internal/content"
	"github.com/JakeFAU/ondemand-crawler/internal/source"
)

// WatchURLPrefix forms the canonical watch URL of a video id.
const WatchURLPrefix = "https://www.youtube.com/watch?v="

// maxPageSize is the largest maxResults the search API accepts.
const maxPageSize = 50

// Config controls the YouTube client.
type Config struct {
	APIKey string
	// Endpoint overrides the API base URL.
	Endpoint string
	// HTTPClient is used for API calls; the API key is attached to each request.
	HTTPClient *http.Client
}

// Fetcher implements source.Fetcher for video.
type Fetcher struct {
	svc    *youtube.Service
	logger *zap.Logger
}

// New builds a YouTube-backed Fetcher.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("video.api_key is required")
	}
	base := http.DefaultTransport
	if cfg.HTTPClient != nil && cfg.HTTPClient.Transport != nil {
		base = cfg.HTTPClient.Transport
	}
	client := &http.Client{Transport: &apiKeyTransport{key: cfg.APIKey, base: base}}
	if cfg.HTTPClient != nil {
		client.Timeout = cfg.HTTPClient.Timeout
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{svc: svc, logger: logger}, nil
}

// Kind implements source.Fetcher.
func (f *Fetcher) Kind() content.SourceType { return content.SourceVideo }

// Fetch runs one search.list call and maps the video results.
func (f *Fetcher) Fetch(ctx context.Context, query string, maxResults int) ([]source.RawItem, error) {
	if maxResults <= 0 || maxResults > maxPageSize {
		maxResults = maxPageSize
	}
	resp, err := f.svc.Search.List([]string{"snippet"}).
		Q(query).
		Type("video").
		MaxResults(int64(maxResults)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("youtube search: %w", err)
	}

	items := make([]source.RawItem, 0, len(resp.Items))
	for _, r := range resp.Items {
		if r.Id == nil || r.Id.VideoId == "" {
			continue
		}
		v := source.Video{
			ID:  r.Id.VideoId,
			URL: WatchURLPrefix + r.Id.VideoId,
		}
		if r.Snippet != nil {
			v.Title = r.Snippet.Title
			v.Description = r.Snippet.Description
			v.Channel = r.Snippet.ChannelTitle
			v.PublishedAt = parseTime(r.Snippet.PublishedAt)
		}
		items = append(items, v)
	}
	f.logger.Debug("youtube search done", zap.String("query", query), zap.Int("results", len(items)))
	return items, nil
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	ts = ts.UTC()
	return &ts
}

// apiKeyTransport adds the key query parameter that authenticates simple API access.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	q := clone.URL.Query()
	q.Set("key", t.key)
	clone.URL.RawQuery = q.Encode()
	resp, err := t.base.RoundTrip(clone)
	if err != nil {
		return nil, fmt.Errorf("youtube roundtrip: %w", err)
	}
	return resp, nil
}
