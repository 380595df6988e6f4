//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/corpora-labs/corpusd/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestS3Client(ctx context.Context, t *testing.T) (*S3Client, func()) {
	mc := testutil.NewMinIOContainer(ctx, t)

	client, err := NewS3Client(ctx, S3ClientConfig{
		Endpoint:        mc.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Bucket:          "corpus-test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, client.EnsureBucket(ctx))

	return client, func() { mc.Terminate(ctx) }
}

func TestS3Client_UploadDownloadDelete(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newTestS3Client(ctx, t)
	defer cleanup()

	payload := []byte("hello object storage")
	key := "documents/user-1/doc-1"

	require.NoError(t, client.Upload(ctx, key, "text/plain", payload))

	data, err := client.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	meta, err := client.HeadObject(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), meta.ContentLength)
	assert.Equal(t, "text/plain", meta.ContentType)

	require.NoError(t, client.Delete(ctx, key))

	_, err = client.Download(ctx, key)
	assert.Error(t, err)
}

func TestS3Client_UploadOverwrites(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newTestS3Client(ctx, t)
	defer cleanup()

	key := "documents/user-1/doc-2"
	require.NoError(t, client.Upload(ctx, key, "text/plain", []byte("first version")))
	require.NoError(t, client.Upload(ctx, key, "text/plain", []byte("second version")))

	data, err := client.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second version"), data)
}

func TestS3Client_EnsureBucketIdempotent(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newTestS3Client(ctx, t)
	defer cleanup()

	assert.NoError(t, client.EnsureBucket(ctx))
}
