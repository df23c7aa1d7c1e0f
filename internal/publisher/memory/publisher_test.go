package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "tasks", map[string]string{"task_id": "a"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	require.Len(t, pub.Messages(), 2)
	tasks := pub.Messages("tasks")
	require.Len(t, tasks, 1)
	require.Equal(t, map[string]string{"task_id": "a"}, tasks[0].Payload)

	msgs := pub.Messages()
	msgs[0].Topic = "modified"
	require.Equal(t, "tasks", pub.Messages()[0].Topic, "Messages must return a copy")
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("broker down"))
	_, err := pub.Publish(context.Background(), "tasks", "x")
	require.EqualError(t, err, "broker down")
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "tasks", "x")
	require.NoError(t, err)
}
