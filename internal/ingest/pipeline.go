// Package ingest normalizes raw items from any source into content records,
// runs the cleaning and classification stages, and stores new records.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ondemand-crawler/internal/content"
	"github.com/JakeFAU/ondemand-crawler/internal/crawler"
	"github.com/JakeFAU/ondemand-crawler/internal/source"
)

const archiveContentType = "application/json"

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithCleaner replaces the cleaning stage.
func WithCleaner(c Cleaner) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.cleaner = c
		}
	}
}

// WithClassifier replaces the classification stage.
func WithClassifier(c Classifier) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.classifier = c
		}
	}
}

// WithArchive writes the raw JSON of each newly created record to blobs under
// prefix, keyed by a digest of the external id.
func WithArchive(blobs crawler.BlobStore, hasher crawler.Hasher, prefix string) Option {
	return func(p *Pipeline) {
		p.archive = blobs
		p.hasher = hasher
		p.archivePrefix = prefix
	}
}

// Pipeline turns raw items into stored content. It is safe for concurrent use
// when its store and stages are.
type Pipeline struct {
	store         content.Store
	cleaner       Cleaner
	classifier    Classifier
	archive       crawler.BlobStore
	hasher        crawler.Hasher
	archivePrefix string
	logger        *zap.Logger
}

// New constructs a Pipeline with identity cleaning and empty classification.
func New(store content.Store, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		store:      store,
		cleaner:    IdentityCleaner{},
		classifier: NoTopics{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NormalizeAndSave stores item and returns the resulting record. Items sharing
// an external id resolve to the same record. Any failure is logged and
// reported as ok=false so a bad item never aborts its batch.
func (p *Pipeline) NormalizeAndSave(
	ctx context.Context,
	item source.RawItem,
	kind content.SourceType,
) (content.Content, bool) {
	record, _, err := p.Ingest(ctx, item, kind)
	if err != nil {
		p.logger.Error("ingest item failed", zap.String("source", string(kind)), zap.Error(err))
		return content.Content{}, false
	}
	return record, true
}

// Ingest is NormalizeAndSave with the failure and the created flag returned to
// the caller instead of logged.
func (p *Pipeline) Ingest(
	ctx context.Context,
	item source.RawItem,
	kind content.SourceType,
) (content.Content, bool, error) {
	record, created, err := p.save(ctx, item, kind)
	if err != nil {
		return content.Content{}, false, err
	}
	if created {
		p.logger.Debug("content saved",
			zap.Int64("content_id", record.ID),
			zap.String("external_id", record.ExternalID),
			zap.String("source", string(kind)),
		)
		p.archiveRaw(ctx, record)
	}
	return record, created, nil
}

func (p *Pipeline) save(
	ctx context.Context,
	item source.RawItem,
	kind content.SourceType,
) (content.Content, bool, error) {
	if item == nil {
		return content.Content{}, false, fmt.Errorf("normalize: %w", content.ErrInvalidItem)
	}
	if item.Kind() != kind {
		return content.Content{}, false, fmt.Errorf(
			"normalize: %w: %s item submitted as %s", content.ErrInvalidItem, item.Kind(), kind,
		)
	}
	candidate, err := Normalize(item)
	if err != nil {
		return content.Content{}, false, fmt.Errorf("normalize: %w", err)
	}
	candidate.Text = p.cleaner.Clean(candidate.Text)
	candidate.Topics = p.classifier.Classify(candidate.Text)
	if candidate.Topics == nil {
		candidate.Topics = []string{}
	}
	if p.store == nil {
		return content.Content{}, false, fmt.Errorf("content store is not configured")
	}
	record, created, err := p.store.Upsert(ctx, candidate)
	if err != nil {
		return content.Content{}, false, fmt.Errorf("upsert content: %w", err)
	}
	return record, created, nil
}

func (p *Pipeline) archiveRaw(ctx context.Context, record content.Content) {
	if p.archive == nil || p.hasher == nil || len(record.RawMetadata) == 0 {
		return
	}
	digest, err := p.hasher.Hash([]byte(record.ExternalID))
	if err != nil {
		p.logger.Warn("archive digest failed", zap.String("external_id", record.ExternalID), zap.Error(err))
		return
	}
	path := p.archivePath(record.SourceType, digest)
	uri, err := p.archive.PutObject(ctx, path, archiveContentType, bytes.NewReader(record.RawMetadata))
	if err != nil {
		p.logger.Warn("archive raw item failed", zap.String("path", path), zap.Error(err))
		return
	}
	p.logger.Debug("raw item archived", zap.Int64("content_id", record.ID), zap.String("uri", uri))
}

func (p *Pipeline) archivePath(kind content.SourceType, digest string) string {
	prefix := strings.Trim(p.archivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", kind, digest)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, kind, digest)
}
