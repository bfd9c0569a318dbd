package s3

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKeyLayout(t *testing.T) {
	store := &S3BlobStore{bucket: "pages", keyPrefix: "pagefs/"}

	assert.Equal(t, "pagefs/pages/ab/abcdef", store.objectKey("abcdef"))
	assert.Equal(t, "pagefs/pages/_/a", store.objectKey("a"))
	assert.Equal(t, "pagefs/pages/", store.pagesPrefix())
}

func TestNewS3BlobStoreValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewS3BlobStore(ctx, S3BlobStoreConfig{Bucket: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client is required")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewS3BlobStore(cancelled, S3BlobStoreConfig{})
	require.ErrorIs(t, err, context.Canceled)
}
