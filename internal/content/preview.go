package content

import "time"

// DefaultPreviewChars bounds the text returned by the poll endpoint.
const DefaultPreviewChars = 500

// Ellipsis is appended to text cut at the preview bound.
const Ellipsis = "..."

// Preview is the compact projection of Content returned to pollers and pushed
// over the live channel.
type Preview struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Text        string     `json:"text"`
	SourceType  SourceType `json:"source_type"`
	SourceName  string     `json:"source_name"`
	URL         string     `json:"url"`
	PublishedAt *string    `json:"published_at"`
	Topics      []string   `json:"topics"`
}

// NewPreview projects c, truncating its text to maxChars characters.
func NewPreview(c Content, maxChars int) Preview {
	topics := c.Topics
	if topics == nil {
		topics = []string{}
	}
	var published *string
	if c.PublishedAt != nil {
		ts := c.PublishedAt.UTC().Format(time.RFC3339)
		published = &ts
	}
	return Preview{
		ID:          c.ID,
		Title:       c.Title,
		Text:        Truncate(c.Text, maxChars),
		SourceType:  c.SourceType,
		SourceName:  c.SourceName,
		URL:         c.URL,
		PublishedAt: published,
		Topics:      topics,
	}
}

// Truncate keeps the first maxChars characters of text and appends Ellipsis
// when anything was cut. A non-positive maxChars disables truncation.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	count := 0
	for i := range text {
		if count == maxChars {
			return text[:i] + Ellipsis
		}
		count++
	}
	return text
}

// Prefix returns at most n characters from the start of text without a marker.
func Prefix(text string, n int) string {
	count := 0
	for i := range text {
		if count == n {
			return text[:i]
		}
		count++
	}
	return text
}
