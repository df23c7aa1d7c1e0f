// Package results serves the poll view of a crawl task: its state and, once
// it succeeded, previews of the content it produced.
package results

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/ondemand-crawler/internal/content"
	"github.com/JakeFAU/ondemand-crawler/internal/crawler"
)

// ErrStoreUnavailable wraps failures reading the content store while hydrating
// a successful task.
var ErrStoreUnavailable = errors.New("content store unavailable")

// Status is the poll response for one task. Results is set (possibly empty)
// only for SUCCESS; Error only for FAILURE.
type Status struct {
	TaskID  string            `json:"task_id"`
	State   crawler.TaskState `json:"state"`
	Results []content.Preview `json:"results,omitzero"`
	Error   string            `json:"error,omitempty"`
}

// Service reads task state and hydrates results from the content store.
type Service struct {
	tasks        crawler.TaskStore
	contents     content.Store
	previewChars int
}

// NewService builds a Service. previewChars <= 0 selects the default bound.
func NewService(tasks crawler.TaskStore, contents content.Store, previewChars int) *Service {
	if previewChars <= 0 {
		previewChars = content.DefaultPreviewChars
	}
	return &Service{tasks: tasks, contents: contents, previewChars: previewChars}
}

// Status returns the poll view of taskID. Unknown ids yield
// crawler.ErrTaskNotFound; hydration failures yield ErrStoreUnavailable.
// RUNNING is reported as PENDING.
func (s *Service) Status(ctx context.Context, taskID string) (Status, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return Status{}, fmt.Errorf("lookup task: %w", err)
	}
	out := Status{TaskID: task.ID, State: task.State}
	switch task.State {
	case crawler.TaskSuccess:
		previews, err := s.hydrate(ctx, task.Result)
		if err != nil {
			return Status{}, err
		}
		out.Results = previews
	case crawler.TaskFailure:
		out.Error = task.Error
		if out.Error == "" {
			out.Error = "task failed"
		}
	default:
		out.State = crawler.TaskPending
	}
	return out, nil
}

// hydrate loads ids and returns previews in the order of ids, skipping ids the
// store no longer knows.
func (s *Service) hydrate(ctx context.Context, ids []int64) ([]content.Preview, error) {
	previews := make([]content.Preview, 0, len(ids))
	if len(ids) == 0 {
		return previews, nil
	}
	records, err := s.contents.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	byID := make(map[int64]content.Content, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			continue
		}
		delete(byID, id)
		previews = append(previews, content.NewPreview(r, s.previewChars))
	}
	return previews, nil
}
