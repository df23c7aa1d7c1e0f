// Package social searches Reddit for recent posts matching a query.
package social

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loganintech/go-reddit/v2/reddit"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/ondemand-crawler/internal/content"
	"github.com/JakeFAU/ondemand-crawler/internal/metrics"
	"github.com/JakeFAU/ondemand-crawler/internal/source"
)

// NetworkName is recorded as the source name of every post.
const NetworkName = "Reddit"

const (
	defaultBaseURL   = "https://www.reddit.com"
	defaultLinkBase  = "https://www.reddit.com"
	defaultUserAgent = "ondemand-crawler/1.0"
	maxListingSize   = 100
)

// Config controls the Reddit client and its request budget. BaseURL is the API
// host; LinkBase is the public host relative permalinks are resolved against,
// so stored URLs stay browsable when the API is reached through another host.
type Config struct {
	BaseURL           string
	LinkBase          string
	UserAgent         string
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Fetcher implements source.Fetcher for social posts.
type Fetcher struct {
	client  *reddit.Client
	limiter *rate.Limiter
	baseURL string
	logger  *zap.Logger
}

// New builds a read-only Reddit Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.LinkBase == "" {
		cfg.LinkBase = defaultLinkBase
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	opts := []reddit.Opt{
		reddit.WithBaseURL(cfg.BaseURL),
		reddit.WithUserAgent(cfg.UserAgent),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, reddit.WithHTTPClient(cfg.HTTPClient))
	}
	client, err := reddit.NewReadonlyClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create reddit client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		baseURL: strings.TrimRight(cfg.LinkBase, "/"),
		logger:  logger,
	}, nil
}

// Kind implements source.Fetcher.
func (f *Fetcher) Kind() content.SourceType { return content.SourceSocial }

// Fetch waits for a request token and runs one site-wide search sorted by new.
func (f *Fetcher) Fetch(ctx context.Context, query string, maxResults int) ([]source.RawItem, error) {
	if maxResults <= 0 || maxResults > maxListingSize {
		maxResults = maxListingSize
	}
	start := time.Now()
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("reddit rate limit wait: %w", err)
	}
	metrics.ObserveRateLimitWait(string(content.SourceSocial), time.Since(start))

	posts, _, err := f.client.Subreddit.SearchPosts(ctx, query, "", &reddit.ListPostSearchOptions{
		ListPostOptions: reddit.ListPostOptions{
			ListOptions: reddit.ListOptions{Limit: maxResults},
		},
		Sort: "new",
	})
	if err != nil {
		return nil, fmt.Errorf("reddit search: %w", err)
	}

	items := make([]source.RawItem, 0, len(posts))
	for _, p := range posts {
		if p == nil || p.ID == "" {
			continue
		}
		post := source.Post{
			ID:        p.ID,
			Text:      postText(p.Title, p.Body),
			URL:       f.permalink(p),
			Author:    p.Author,
			Community: p.SubredditName,
			Network:   NetworkName,
			Score:     p.Score,
		}
		if p.Created != nil && !p.Created.IsZero() {
			ts := p.Created.UTC()
			post.PublishedAt = &ts
		}
		items = append(items, post)
	}
	f.logger.Debug("reddit search done", zap.String("query", query), zap.Int("results", len(items)))
	return items, nil
}

func (f *Fetcher) permalink(p *reddit.Post) string {
	switch {
	case strings.HasPrefix(p.Permalink, "/"):
		return f.baseURL + p.Permalink
	case p.Permalink != "":
		return p.Permalink
	default:
		return p.URL
	}
}

func postText(title, body string) string {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	switch {
	case body == "":
		return title
	case title == "":
		return body
	default:
		return title + "\n\n" + body
	}
}
