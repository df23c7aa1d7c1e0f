// Package content defines the canonical record produced by ingestion and the
// store contract that deduplicates records by their source-supplied key.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// SourceType enumerates the kinds of upstream sources a record can come from.
type SourceType string

// Supported source kinds.
const (
	SourceNews   SourceType = "news"
	SourceVideo  SourceType = "video"
	SourceSocial SourceType = "social"
)

// Valid reports whether s is one of the known source kinds.
func (s SourceType) Valid() bool {
	switch s {
	case SourceNews, SourceVideo, SourceSocial:
		return true
	default:
		return false
	}
}

// ErrInvalidItem marks a record that cannot be stored (missing key, unknown kind).
var ErrInvalidItem = errors.New("invalid content item")

// Content is one crawled item after normalization.
type Content struct {
	// ID is assigned by the store and never changes once created.
	ID int64 `json:"id"`
	// ExternalID is the source-supplied natural key used for deduplication.
	ExternalID  string          `json:"external_id"`
	Title       string          `json:"title"`
	Text        string          `json:"text"`
	SourceType  SourceType      `json:"source_type"`
	SourceName  string          `json:"source_name"`
	URL         string          `json:"url"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
	Topics      []string        `json:"topics"`
	RawMetadata json.RawMessage `json:"raw_metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate checks the fields a store needs before it can upsert c.
func (c Content) Validate() error {
	if c.ExternalID == "" {
		return errors.Join(ErrInvalidItem, errors.New("external_id is required"))
	}
	if !c.SourceType.Valid() {
		return errors.Join(ErrInvalidItem, errors.New("unknown source_type "+string(c.SourceType)))
	}
	return nil
}

// Store persists content keyed by ExternalID.
//
// Upsert inserts candidate when no record shares its ExternalID and returns
// created=true. Otherwise it returns the existing record untouched with
// created=false. Concurrent upserts of one ExternalID produce a single record.
//
// GetByIDs returns the records whose IDs exist; unknown IDs are skipped.
type Store interface {
	Upsert(ctx context.Context, candidate Content) (Content, bool, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Content, error)
}
