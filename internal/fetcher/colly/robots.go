package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/ondemand-crawler/internal/metrics"
)

// Reasons recorded on a Page when robots.txt could not be read and the
// article was fetched anyway.
const (
	robotsReasonTimeout     = "robots.txt timed out"
	robotsReasonServerError = "robots.txt server error"
)

const robotsAllowAll = "User-agent: *\nAllow: /"

var defaultRobotsDelays = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

// robotsGuard sits under the collector so that a publisher whose robots.txt
// times out or answers 5xx does not block the article download. Colly treats
// a 5xx robots.txt as disallow-all.
type robotsGuard struct {
	next   http.RoundTripper
	delays []time.Duration

	mu     sync.Mutex
	reason string
}

func newRobotsGuard(next http.RoundTripper) *robotsGuard {
	return &robotsGuard{next: next, delays: defaultRobotsDelays}
}

// Reason is the first fallback reason recorded, or "" when robots.txt was read.
func (g *robotsGuard) Reason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

func (g *robotsGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots guard: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := g.next.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}
	for attempt := 0; ; attempt++ {
		resp, err := g.next.RoundTrip(req.Clone(req.Context()))
		switch {
		case err == nil && resp.StatusCode < http.StatusInternalServerError:
			return resp, nil
		case err == nil:
			status := resp.StatusCode
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return g.allowAll(req, fmt.Sprintf("%s (%d)", robotsReasonServerError, status)), nil
		case !isTimeout(err):
			return nil, fmt.Errorf("robots.txt %s: %w", req.URL.Host, err)
		case attempt >= len(g.delays):
			return g.allowAll(req, robotsReasonTimeout), nil
		}
		if err := pause(req.Context(), g.delays[attempt]); err != nil {
			return nil, fmt.Errorf("robots.txt %s: %w", req.URL.Host, err)
		}
	}
}

func (g *robotsGuard) allowAll(req *http.Request, reason string) *http.Response {
	g.mu.Lock()
	if g.reason == "" {
		g.reason = reason
	}
	g.mu.Unlock()
	metrics.ObserveRobotsFallback()
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(robotsAllowAll)),
		ContentLength: int64(len(robotsAllowAll)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}

func pause(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
