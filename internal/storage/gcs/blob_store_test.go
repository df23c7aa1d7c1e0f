package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "storage client is required")
}

func TestIsPreconditionFailed(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("close: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})
	require.True(t, isPreconditionFailed(wrapped))
	require.False(t, isPreconditionFailed(&googleapi.Error{Code: http.StatusForbidden}))
	require.False(t, isPreconditionFailed(errors.New("boom")))
}

func TestCloseIsNoopForBorrowedClient(t *testing.T) {
	t.Parallel()

	store := &BlobStore{bucket: "b"}
	require.NoError(t, store.Close())
	_, err := store.PutObject(context.Background(), "  ", "", nil)
	require.ErrorContains(t, err, "path is required")
}
