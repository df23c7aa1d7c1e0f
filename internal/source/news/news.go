// Package news fetches news articles for a query from an RSS search feed and
// extracts article bodies with readability.
package news

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/rss"
	"go.uber.org/zap"

	"github.com/JakeFAU/ondemand-crawler/internal/content"
	"github.com/JakeFAU/ondemand-crawler/internal/source"
)

// DefaultFeedURL is the Google News RSS search endpoint. %s receives the escaped query.
const DefaultFeedURL = "https://news.google.com/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en"

// DefaultSourceName is used when a feed entry names no publisher.
const DefaultSourceName = "Google News"

const (
	defaultArticleWorkers = 4
	customSourceKey       = "source"
	httpPrefix            = "http"
)

// Getter downloads a document body.
type Getter interface {
	Body(ctx context.Context, url string) ([]byte, error)
}

// Throttle paces article downloads.
type Throttle interface {
	Wait(ctx context.Context, url string) error
}

// Config controls the news fetcher.
type Config struct {
	FeedURL        string
	FetchArticles  bool
	ArticleWorkers int
	// Throttle is consulted before each article download when set.
	Throttle Throttle
}

// Fetcher implements source.Fetcher for news.
type Fetcher struct {
	getter Getter
	cfg    Config
	logger *zap.Logger
}

// New builds a news Fetcher.
func New(getter Getter, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.FeedURL == "" {
		cfg.FeedURL = DefaultFeedURL
	}
	if cfg.ArticleWorkers <= 0 {
		cfg.ArticleWorkers = defaultArticleWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{getter: getter, cfg: cfg, logger: logger}
}

// Kind implements source.Fetcher.
func (f *Fetcher) Kind() content.SourceType { return content.SourceNews }

// Fetch downloads the search feed for query and returns up to maxResults articles.
func (f *Fetcher) Fetch(ctx context.Context, query string, maxResults int) ([]source.RawItem, error) {
	feedURL := f.feedURL(query)
	body, err := f.getter.Body(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("download news feed: %w", err)
	}
	articles, err := parseFeed(body)
	if err != nil {
		return nil, err
	}
	if maxResults > 0 && len(articles) > maxResults {
		articles = articles[:maxResults]
	}
	if f.cfg.FetchArticles {
		f.fillBodies(ctx, articles)
	}

	items := make([]source.RawItem, 0, len(articles))
	for _, a := range articles {
		items = append(items, a)
	}
	return items, nil
}

func (f *Fetcher) feedURL(query string) string {
	if strings.Contains(f.cfg.FeedURL, "%s") {
		return fmt.Sprintf(f.cfg.FeedURL, url.QueryEscape(query))
	}
	return f.cfg.FeedURL
}

// fillBodies downloads each article and replaces its text with the extracted
// body. Articles that fail keep their feed summary.
func (f *Fetcher) fillBodies(ctx context.Context, articles []source.NewsArticle) {
	sem := make(chan struct{}, f.cfg.ArticleWorkers)
	var wg sync.WaitGroup
	for i := range articles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					f.logger.Warn("article extraction panicked", zap.String("url", articles[i].URL), zap.Any("panic", r))
				}
			}()

			text, err := f.articleText(ctx, articles[i].URL)
			if err != nil {
				f.logger.Debug("article extraction failed",
					zap.String("url", articles[i].URL),
					zap.Error(err),
				)
				return
			}
			articles[i].Text = text
		}()
	}
	wg.Wait()
}

func (f *Fetcher) articleText(ctx context.Context, link string) (string, error) {
	pageURL, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse article url: %w", err)
	}
	if f.cfg.Throttle != nil {
		if err := f.cfg.Throttle.Wait(ctx, link); err != nil {
			return "", err
		}
	}
	body, err := f.getter.Body(ctx, link)
	if err != nil {
		return "", fmt.Errorf("download article: %w", err)
	}
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", fmt.Errorf("extract article: %w", err)
	}
	text := collapseSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("extract article: empty text")
	}
	return text, nil
}

func parseFeed(body []byte) ([]source.NewsArticle, error) {
	parser := gofeed.NewParser()
	parser.RSSTranslator = newSourceTranslator()
	feed, err := parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse news feed: %w", err)
	}
	articles := make([]source.NewsArticle, 0, len(feed.Items))
	for _, entry := range feed.Items {
		link := extractLink(entry)
		if link == "" {
			continue
		}
		publisher := DefaultSourceName
		if name := strings.TrimSpace(entry.Custom[customSourceKey]); name != "" {
			publisher = name
		}
		articles = append(articles, source.NewsArticle{
			URL:         link,
			Title:       strings.TrimSpace(entry.Title),
			Summary:     stripHTML(entry.Description),
			Source:      publisher,
			PublishedAt: entry.PublishedParsed,
		})
	}
	return articles, nil
}

func extractLink(entry *gofeed.Item) string {
	if entry.Link != "" {
		return entry.Link
	}
	if strings.HasPrefix(entry.GUID, httpPrefix) {
		return entry.GUID
	}
	return ""
}

// stripHTML returns the visible text of an HTML fragment.
func stripHTML(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseSpace(fragment)
	}
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// sourceTranslator keeps the RSS <source> publisher name, which the default
// translator drops, in Item.Custom.
type sourceTranslator struct {
	base *gofeed.DefaultRSSTranslator
}

func newSourceTranslator() *sourceTranslator {
	return &sourceTranslator{base: &gofeed.DefaultRSSTranslator{}}
}

func (t *sourceTranslator) Translate(feed interface{}) (*gofeed.Feed, error) {
	rssFeed, ok := feed.(*rss.Feed)
	if !ok {
		return nil, fmt.Errorf("feed did not match expected type of *rss.Feed")
	}
	out, err := t.base.Translate(rssFeed)
	if err != nil {
		return nil, fmt.Errorf("translate rss feed: %w", err)
	}
	for i, item := range rssFeed.Items {
		if item.Source == nil || i >= len(out.Items) {
			continue
		}
		if out.Items[i].Custom == nil {
			out.Items[i].Custom = make(map[string]string)
		}
		out.Items[i].Custom[customSourceKey] = item.Source.Title
	}
	return out, nil
}
