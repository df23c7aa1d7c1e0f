package content

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 501)
	exact := strings.Repeat("b", 500)

	require.Equal(t, strings.Repeat("a", 500)+"...", Truncate(long, 500))
	require.Equal(t, exact, Truncate(exact, 500))
	require.Equal(t, "short", Truncate("short", 500))
	require.Equal(t, long, Truncate(long, 0))
}

func TestTruncateCountsCharactersNotBytes(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("é", 10)
	require.Equal(t, strings.Repeat("é", 4)+"...", Truncate(text, 4))
	require.Equal(t, strings.Repeat("é", 3), Prefix(text, 3))
	require.Equal(t, "ab", Prefix("ab", 100))
}

func TestNewPreview(t *testing.T) {
	t.Parallel()

	published := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	c := Content{
		ID:          7,
		ExternalID:  "https://example.com/a",
		Title:       "Floods",
		Text:        strings.Repeat("x", 600),
		SourceType:  SourceNews,
		SourceName:  "Google News",
		URL:         "https://example.com/a",
		PublishedAt: &published,
	}

	p := NewPreview(c, DefaultPreviewChars)
	require.Equal(t, int64(7), p.ID)
	require.Len(t, p.Text, 503)
	require.NotNil(t, p.PublishedAt)
	require.Equal(t, "2024-05-01T12:30:00Z", *p.PublishedAt)
	require.NotNil(t, p.Topics)
	require.Empty(t, p.Topics)

	c.PublishedAt = nil
	require.Nil(t, NewPreview(c, DefaultPreviewChars).PublishedAt)
}

func TestContentValidate(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Content{SourceType: SourceNews}.Validate(), ErrInvalidItem)
	require.ErrorIs(t, Content{ExternalID: "x", SourceType: "rss"}.Validate(), ErrInvalidItem)
	require.NoError(t, Content{ExternalID: "x", SourceType: SourceVideo}.Validate())
}
