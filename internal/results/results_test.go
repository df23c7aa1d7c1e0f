package results

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ondemand-crawler/internal/content"
	"github.com/JakeFAU/ondemand-crawler/internal/crawler"
	"github.com/JakeFAU/ondemand-crawler/internal/storage/memory"
)

func TestStatusHydratesInResultOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	contents := memory.NewContentStore()
	a := mustUpsert(t, contents, content.Content{ExternalID: "a", SourceType: content.SourceNews, Text: strings.Repeat("x", 600)})
	b := mustUpsert(t, contents, content.Content{ExternalID: "b", SourceType: content.SourceVideo, Text: "short"})

	tasks := memory.NewTaskStore()
	require.NoError(t, tasks.CreateTask(ctx, crawler.Task{ID: "t1"}))
	require.NoError(t, tasks.CompleteTask(ctx, "t1", []int64{b.ID, 999, a.ID}))

	svc := NewService(tasks, reorderingStore{contents}, 0)
	status, err := svc.Status(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, crawler.TaskSuccess, status.State)
	require.Len(t, status.Results, 2)
	require.Equal(t, b.ID, status.Results[0].ID)
	require.Equal(t, a.ID, status.Results[1].ID)
	require.Equal(t, strings.Repeat("x", 500)+"...", status.Results[1].Text)
	require.Equal(t, "short", status.Results[0].Text)
}

func TestStatusStates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tasks := memory.NewTaskStore()
	svc := NewService(tasks, memory.NewContentStore(), 10)

	_, err := svc.Status(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrTaskNotFound)

	require.NoError(t, tasks.CreateTask(ctx, crawler.Task{ID: "p"}))
	status, err := svc.Status(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, crawler.TaskPending, status.State)
	require.Nil(t, status.Results)

	require.NoError(t, tasks.MarkRunning(ctx, "p", 1))
	status, err = svc.Status(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, crawler.TaskPending, status.State)

	require.NoError(t, tasks.CreateTask(ctx, crawler.Task{ID: "f"}))
	require.NoError(t, tasks.FailTask(ctx, "f", "orchestrator fault"))
	status, err = svc.Status(ctx, "f")
	require.NoError(t, err)
	require.Equal(t, crawler.TaskFailure, status.State)
	require.Equal(t, "orchestrator fault", status.Error)
}

func TestStatusEmptySuccessSerializesEmptyResults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tasks := memory.NewTaskStore()
	require.NoError(t, tasks.CreateTask(ctx, crawler.Task{ID: "e"}))
	require.NoError(t, tasks.CompleteTask(ctx, "e", nil))

	status, err := NewService(tasks, memory.NewContentStore(), 0).Status(ctx, "e")
	require.NoError(t, err)
	body, err := json.Marshal(status)
	require.NoError(t, err)
	require.JSONEq(t, `{"task_id":"e","state":"SUCCESS","results":[]}`, string(body))

	require.NoError(t, tasks.CreateTask(ctx, crawler.Task{ID: "p"}))
	status, err = NewService(tasks, memory.NewContentStore(), 0).Status(ctx, "p")
	require.NoError(t, err)
	body, err = json.Marshal(status)
	require.NoError(t, err)
	require.JSONEq(t, `{"task_id":"p","state":"PENDING"}`, string(body))
}

func TestStatusStoreFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tasks := memory.NewTaskStore()
	require.NoError(t, tasks.CreateTask(ctx, crawler.Task{ID: "t"}))
	require.NoError(t, tasks.CompleteTask(ctx, "t", []int64{1}))

	_, err := NewService(tasks, brokenStore{}, 0).Status(ctx, "t")
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func mustUpsert(t *testing.T, store content.Store, c content.Content) content.Content {
	t.Helper()
	record, created, err := store.Upsert(context.Background(), c)
	require.NoError(t, err)
	require.True(t, created)
	return record
}

// reorderingStore returns records in reverse to prove ordering is restored.
type reorderingStore struct {
	content.Store
}

func (r reorderingStore) GetByIDs(ctx context.Context, ids []int64) ([]content.Content, error) {
	records, err := r.Store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

type brokenStore struct{}

func (brokenStore) Upsert(context.Context, content.Content) (content.Content, bool, error) {
	return content.Content{}, false, errors.New("down")
}

func (brokenStore) GetByIDs(context.Context, []int64) ([]content.Content, error) {
	return nil, errors.New("connection refused")
}
