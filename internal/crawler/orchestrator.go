package crawler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ondemand-crawler/internal/clock/system"
	"github.com/JakeFAU/ondemand-crawler/internal/content"
	"github.com/JakeFAU/ondemand-crawler/internal/progress"
	"github.com/JakeFAU/ondemand-crawler/internal/source"
)

// DefaultFetchTimeout bounds a single fetcher call when a Source sets none.
const DefaultFetchTimeout = 30 * time.Second

// Default per-source result caps.
const (
	DefaultNewsMax   = 20
	DefaultVideoMax  = 20
	DefaultSocialMax = 50
)

// SourceOrder is the static order in which per-source results are concatenated.
var SourceOrder = []content.SourceType{content.SourceNews, content.SourceVideo, content.SourceSocial}

// Ingester normalizes and stores one raw item, reporting whether a new
// record was created.
type Ingester interface {
	Ingest(ctx context.Context, item source.RawItem, kind content.SourceType) (content.Content, bool, error)
}

// Source binds a fetcher to its result cap and per-call timeout.
type Source struct {
	Fetcher    source.Fetcher
	MaxResults int
	Timeout    time.Duration
}

// OrchestratorConfig wires an Orchestrator's collaborators.
type OrchestratorConfig struct {
	Sources      []Source
	Ingester     Ingester
	Notifier     Notifier
	Progress     progress.Emitter
	Clock        Clock
	PreviewChars int
	Logger       *zap.Logger
}

// Orchestrator runs one query across every configured source and collects the
// resulting content ids.
type Orchestrator struct {
	sources      []Source
	ingester     Ingester
	notifier     Notifier
	progress     progress.Emitter
	clock        Clock
	previewChars int
	logger       *zap.Logger
}

// NewOrchestrator validates cfg and sorts sources into SourceOrder.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Ingester == nil {
		return nil, errors.New("orchestrator requires an ingester")
	}
	seen := make(map[content.SourceType]bool, len(cfg.Sources))
	sources := make([]Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		if src.Fetcher == nil {
			return nil, errors.New("source fetcher is nil")
		}
		kind := src.Fetcher.Kind()
		if !kind.Valid() {
			return nil, fmt.Errorf("source fetcher has unknown kind %q", kind)
		}
		if seen[kind] {
			return nil, fmt.Errorf("duplicate fetcher for %s", kind)
		}
		seen[kind] = true
		if src.Timeout <= 0 {
			src.Timeout = DefaultFetchTimeout
		}
		sources = append(sources, src)
	}
	slices.SortStableFunc(sources, func(a, b Source) int {
		return slices.Index(SourceOrder, a.Fetcher.Kind()) - slices.Index(SourceOrder, b.Fetcher.Kind())
	})
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = system.New()
	}
	previewChars := cfg.PreviewChars
	if previewChars <= 0 {
		previewChars = content.DefaultPreviewChars
	}
	return &Orchestrator{
		sources:      sources,
		ingester:     cfg.Ingester,
		notifier:     cfg.Notifier,
		progress:     cfg.Progress,
		clock:        clock,
		previewChars: previewChars,
		logger:       logger,
	}, nil
}

// Run fans query out to every source and returns the ids of the ingested
// content, concatenated in SourceOrder with repeats collapsed to their first
// position. Source failures are isolated; an error is returned only when ctx
// ends before aggregation.
func (o *Orchestrator) Run(ctx context.Context, taskID, query string) ([]int64, error) {
	logger := o.logger.With(zap.String("task_id", taskID), zap.String("query", query))
	logger.Info("crawl started", zap.Int("sources", len(o.sources)))

	perSource := make([][]int64, len(o.sources))
	var wg sync.WaitGroup
	for i, src := range o.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			perSource[i] = o.runSource(ctx, logger, taskID, query, src)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("crawl aborted: %w", err)
	}

	seen := make(map[int64]struct{})
	ids := make([]int64, 0)
	for _, batch := range perSource {
		for _, id := range batch {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	o.push(taskID, EventCompleted, map[string]any{"count": len(ids)})
	logger.Info("crawl aggregated", zap.Int("results", len(ids)))
	return ids, nil
}

func (o *Orchestrator) runSource(
	ctx context.Context,
	logger *zap.Logger,
	taskID, query string,
	src Source,
) []int64 {
	kind := src.Fetcher.Kind()
	logger = logger.With(zap.String("source", string(kind)))

	start := o.clock.Now()
	o.emit(progress.Event{TaskID: taskID, Stage: progress.StageFetchStart, Source: string(kind)})
	items, err := o.fetch(ctx, src, query)
	dur := o.clock.Now().Sub(start)
	if err != nil {
		logger.Warn("source fetch failed", zap.Duration("duration", dur), zap.Error(err))
		o.emit(progress.Event{
			TaskID: taskID, Stage: progress.StageFetchError, Source: string(kind), Dur: dur, Note: err.Error(),
		})
		o.push(taskID, EventSourceFailed, map[string]any{"source": kind, "error": err.Error()})
		return nil
	}
	o.emit(progress.Event{
		TaskID: taskID, Stage: progress.StageFetchDone, Source: string(kind), Items: len(items), Dur: dur,
	})

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		record, created, err := o.ingest(ctx, item, kind)
		if err != nil {
			logger.Error("ingest item failed", zap.Error(err))
			continue
		}
		o.emit(progress.Event{TaskID: taskID, Stage: progress.StageItemIngested, Source: string(kind), Created: created})
		ids = append(ids, record.ID)
		o.push(taskID, EventContent, content.NewPreview(record, o.previewChars))
	}
	logger.Info("source ingested", zap.Int("fetched", len(items)), zap.Int("stored", len(ids)))
	o.push(taskID, EventSourceDone, map[string]any{"source": kind, "count": len(ids)})
	return ids
}

type fetchResult struct {
	items []source.RawItem
	err   error
}

// fetch calls the fetcher under its timeout. A fetcher that ignores its
// context is abandoned once the deadline passes; panics become errors.
func (o *Orchestrator) fetch(ctx context.Context, src Source, query string) ([]source.RawItem, error) {
	kind := src.Fetcher.Kind()
	fetchCtx, cancel := context.WithTimeout(ctx, src.Timeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("source fetcher panicked",
					zap.String("source", string(kind)),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				done <- fetchResult{err: fmt.Errorf("fetcher panic: %v", r)}
			}
		}()
		items, err := src.Fetcher.Fetch(fetchCtx, query, src.MaxResults)
		done <- fetchResult{items: items, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-fetchCtx.Done():
		return nil, fmt.Errorf("fetch %s: %w", kind, fetchCtx.Err())
	}
	if res.err != nil {
		return nil, fmt.Errorf("fetch %s: %w", kind, res.err)
	}
	items := res.items
	if src.MaxResults > 0 && len(items) > src.MaxResults {
		items = items[:src.MaxResults]
	}
	return items, nil
}

// ingest stores one item, turning panics into errors.
func (o *Orchestrator) ingest(
	ctx context.Context,
	item source.RawItem,
	kind content.SourceType,
) (record content.Content, created bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			record, created, err = content.Content{}, false, fmt.Errorf("ingest panic: %v", r)
		}
	}()
	return o.ingester.Ingest(ctx, item, kind)
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.progress == nil {
		return
	}
	evt.TS = o.clock.Now().UTC()
	o.progress.Emit(evt)
}

func (o *Orchestrator) push(taskID, name string, payload any) {
	if o.notifier == nil {
		return
	}
	o.notifier.Push(taskID, Event{Event: name, Payload: payload})
}

