package blob

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spiritcore/internal/config"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, config.BlobConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, store.Driver())

	store, err = Open(ctx, config.BlobConfig{Driver: "s3", S3: config.S3Config{Bucket: "archive", Region: "eu-west-1", AccessKey: "AKIA", SecretKey: "SECRET"}})
	require.NoError(t, err)
	assert.Equal(t, DriverS3, store.Driver())

	_, err = Open(ctx, config.BlobConfig{Driver: "s3"})
	assert.Error(t, err)

	_, err = Open(ctx, config.BlobConfig{Driver: "ftp"})
	assert.EqualError(t, err, "unknown blob driver ftp")
}

func TestMemoryStoreRejectsOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_, err := store.Put(ctx, "k", strings.NewReader("v"), PutOptions{})
	require.NoError(t, err)
	_, err = store.Put(ctx, "k", strings.NewReader("v"), PutOptions{})
	assert.ErrorIs(t, err, ErrExists)
}
