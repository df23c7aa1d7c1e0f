// Package collyfetcher downloads pages for the news source using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// DefaultTimeout bounds a single page request when Config sets none.
const DefaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Transport replaces the pooled default transport (tests use httptest clients).
	Transport http.RoundTripper
}

// Page is one downloaded document.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	// RobotsReason is set when robots.txt could not be read and access was assumed.
	RobotsReason string
}

// Getter performs single GET requests through a Colly collector.
type Getter struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Getter.
func New(cfg Config) *Getter {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	return &Getter{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Get downloads url. Non-2xx responses are reported as errors by Colly.
func (g *Getter) Get(ctx context.Context, url string) (Page, error) {
	var (
		page     Page
		fetchErr error
	)
	collector, guard := g.buildCollector(time.Now(), &page, &fetchErr)
	if err := g.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return Page{}, err
	}
	if guard != nil {
		page.RobotsReason = guard.Reason()
	}
	return page, nil
}

// Body is Get reduced to the response body.
func (g *Getter) Body(ctx context.Context, url string) ([]byte, error) {
	page, err := g.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return page.Body, nil
}

func (g *Getter) buildCollector(
	start time.Time,
	page *Page,
	fetchErr *error,
) (*colly.Collector, *robotsGuard) {
	collector := g.baseCollector.Clone()
	if g.cfg.UserAgent != "" {
		collector.UserAgent = g.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !g.cfg.RespectRobots
	timeout := g.cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	collector.SetRequestTimeout(timeout)

	var guard *robotsGuard
	if g.cfg.RespectRobots {
		guard = newRobotsGuard(g.transport)
		collector.WithTransport(guard)
	} else {
		collector.WithTransport(g.transport)
	}

	configureCollectorHooks(collector, start, page, fetchErr)
	return collector, guard
}

func configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	page *Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/rss+xml,application/xml;q=0.9,*/*;q=0.8")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*page = Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (g *Getter) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
