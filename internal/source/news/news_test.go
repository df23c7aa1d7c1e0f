package news

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ondemand-crawler/internal/content"
	"github.com/JakeFAU/ondemand-crawler/internal/source"
)

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>"floods" - Google News</title>
<link>https://news.google.com</link>
<description>Google News</description>
%s
</channel>
</rss>`

func feedItem(link, title, description, publisher string) string {
	src := ""
	if publisher != "" {
		src = fmt.Sprintf(`<source url="https://publisher.example">%s</source>`, publisher)
	}
	return fmt.Sprintf(`<item>
<title>%s</title>
<link>%s</link>
<pubDate>Tue, 02 Jan 2024 03:04:05 GMT</pubDate>
<description><![CDATA[%s]]></description>
%s
</item>`, title, link, description, src)
}

func articlePage(title string) string {
	para := strings.Repeat("River levels rose sharply overnight as heavy rain hit the valley towns. ", 12)
	return fmt.Sprintf(`<html><head><title>%s</title></head><body>
<nav><a href="/">Home</a></nav>
<article><h1>%s</h1><p>%s</p><p>%s</p></article>
<footer>Copyright</footer>
</body></html>`, title, title, para, para)
}

type fakeGetter struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	called []string
}

func (g *fakeGetter) Body(_ context.Context, url string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.called = append(g.called, url)
	if err, ok := g.errs[url]; ok {
		return nil, err
	}
	page, ok := g.pages[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(page), nil
}

func TestFetchParsesFeedAndExtractsArticles(t *testing.T) {
	t.Parallel()

	feedURL := "https://feed.example/search?q=river+floods"
	getter := &fakeGetter{
		pages: map[string]string{
			feedURL: fmt.Sprintf(feedTemplate,
				feedItem("https://a.example/1", "Floods hit valley - Daily", "<a href=\"x\">Heavy rain</a>&nbsp;floods valley", "Daily Planet")+
					feedItem("https://b.example/2", "Second", "<p>second summary</p>", "")),
			"https://a.example/1": articlePage("Floods hit valley"),
		},
	}
	f := New(getter, Config{FeedURL: "https://feed.example/search?q=%s", FetchArticles: true}, zap.NewNop())
	require.Equal(t, content.SourceNews, f.Kind())

	items, err := f.Fetch(context.Background(), "river floods", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)

	first, ok := items[0].(source.NewsArticle)
	require.True(t, ok)
	require.Equal(t, "https://a.example/1", first.URL)
	require.Equal(t, "Daily Planet", first.Source)
	require.Contains(t, first.Text, "River levels rose sharply")
	require.Equal(t, "Heavy rain floods valley", first.Summary)
	require.NotNil(t, first.PublishedAt)
	require.Equal(t, 2024, first.PublishedAt.Year())

	second := items[1].(source.NewsArticle)
	require.Equal(t, DefaultSourceName, second.Source)
	require.Empty(t, second.Text, "failed article download keeps only the summary")
	require.Equal(t, "second summary", second.Summary)
}

func TestFetchCapsResultsBeforeDownloadingArticles(t *testing.T) {
	t.Parallel()

	var entries strings.Builder
	for i := range 5 {
		entries.WriteString(feedItem(fmt.Sprintf("https://n.example/%d", i), "t", "s", ""))
	}
	getter := &fakeGetter{pages: map[string]string{
		"https://feed.example/rss": fmt.Sprintf(feedTemplate, entries.String()),
	}}
	f := New(getter, Config{FeedURL: "https://feed.example/rss", FetchArticles: true}, nil)

	items, err := f.Fetch(context.Background(), "anything", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Len(t, getter.called, 3, "feed plus one request per kept article")
}

func TestFetchWithoutArticleDownloads(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{pages: map[string]string{
		"https://feed.example/rss": fmt.Sprintf(feedTemplate, feedItem("https://n.example/a", "t", "summary only", "")),
	}}
	f := New(getter, Config{FeedURL: "https://feed.example/rss"}, nil)

	items, err := f.Fetch(context.Background(), "q", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Len(t, getter.called, 1)
	require.Equal(t, "summary only", items[0].(source.NewsArticle).Summary)
}

type fakeThrottle struct {
	mu   sync.Mutex
	err  error
	urls []string
}

func (f *fakeThrottle) Wait(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	return f.err
}

func TestFetchThrottlesArticleDownloads(t *testing.T) {
	t.Parallel()

	feed := fmt.Sprintf(feedTemplate, feedItem("https://a.example/1", "t", "summary", ""))
	throttle := &fakeThrottle{}
	getter := &fakeGetter{pages: map[string]string{
		"https://feed.example/rss": feed,
		"https://a.example/1":      articlePage("t"),
	}}
	f := New(getter, Config{FeedURL: "https://feed.example/rss", FetchArticles: true, Throttle: throttle}, nil)

	items, err := f.Fetch(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example/1"}, throttle.urls, "the feed itself is not throttled")
	require.NotEmpty(t, items[0].(source.NewsArticle).Text)

	denied := &fakeThrottle{err: context.DeadlineExceeded}
	getter = &fakeGetter{pages: map[string]string{"https://feed.example/rss": feed}}
	f = New(getter, Config{FeedURL: "https://feed.example/rss", FetchArticles: true, Throttle: denied}, nil)

	items, err = f.Fetch(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Empty(t, items[0].(source.NewsArticle).Text)
	require.Equal(t, "summary", items[0].(source.NewsArticle).Summary)
	require.Len(t, getter.called, 1, "a denied article is never downloaded")
}

func TestFetchFailsOnFeedErrors(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{
		errs:  map[string]error{"https://feed.example/down": errors.New("timeout")},
		pages: map[string]string{"https://feed.example/junk": "not a feed"},
	}

	_, err := New(getter, Config{FeedURL: "https://feed.example/down"}, nil).Fetch(context.Background(), "q", 5)
	require.ErrorContains(t, err, "download news feed")

	_, err = New(getter, Config{FeedURL: "https://feed.example/junk"}, nil).Fetch(context.Background(), "q", 5)
	require.ErrorContains(t, err, "parse news feed")
}

func TestFeedURLEscapesQuery(t *testing.T) {
	t.Parallel()

	f := New(nil, Config{}, nil)
	require.Equal(t,
		"https://news.google.com/rss/search?q=floods+%26+storms&hl=en-US&gl=US&ceid=US:en",
		f.feedURL("floods & storms"),
	)
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", stripHTML("   "))
	require.Equal(t, "a b c", stripHTML("<p>a <b>b</b></p>\n c"))
}
