package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
)

func TestGetterBuildCollector(t *testing.T) {
	t.Parallel()

	g := New(Config{UserAgent: "coverage-agent", RespectRobots: true, Timeout: time.Second})
	collector, state := g.buildCollector(time.Unix(0, 0), &Page{}, new(error))
	require.Equal(t, "coverage-agent", collector.UserAgent)
	require.False(t, collector.IgnoreRobotsTxt)
	require.NotNil(t, state)

	g = New(Config{})
	collector, state = g.buildCollector(time.Unix(0, 0), &Page{}, new(error))
	require.True(t, collector.IgnoreRobotsTxt)
	require.Nil(t, state)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	var (
		page     Page
		fetchErr error
	)
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, time.Unix(0, 0), &page, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Contains(t, collyReq.Headers.Get("Accept"), "application/rss+xml")

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, "body", string(page.Body))
	require.Equal(t, "ok", page.Header.Get("X-Resp"))

	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("Not Found"))
	require.ErrorContains(t, fetchErr, "status 404")
}

func TestGetterGetAgainstServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("<html>hello</html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	g := New(Config{UserAgent: "test-agent", Timeout: 2 * time.Second})
	page, err := g.Get(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "<html>hello</html>", string(page.Body))

	body, err := g.Body(context.Background(), srv.URL+"/ok")
	require.NoError(t, err, "revisiting the same url must be allowed")
	require.Equal(t, "<html>hello</html>", string(body))

	_, err = g.Get(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
}

func TestGetterHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).Get(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
