package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spiritcore/internal/blob/core"
)

func TestPutGetListDelete(t *testing.T) {
	ctx := context.Background()
	store := New()
	assert.Equal(t, core.DriverMemory, store.Driver())

	info, err := store.Put(ctx, "snapshots/b.json", strings.NewReader(`{"b":1}`), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"studies": "2"}})
	require.NoError(t, err)
	assert.EqualValues(t, 7, info.Size)
	_, err = store.Put(ctx, "snapshots/a.json", strings.NewReader("{}"), core.PutOptions{})
	require.NoError(t, err)
	_, err = store.Put(ctx, "other/c.json", strings.NewReader("{}"), core.PutOptions{})
	require.NoError(t, err)

	_, err = store.Put(ctx, "snapshots/a.json", strings.NewReader("again"), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrExists)

	got, rc, err := store.Get(ctx, "snapshots/b.json")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, `{"b":1}`, string(body))
	assert.Equal(t, "2", got.Metadata["studies"])

	got.Metadata["studies"] = "changed"
	again, _, err := store.Get(ctx, "snapshots/b.json")
	require.NoError(t, err)
	assert.Equal(t, "2", again.Metadata["studies"])

	list, err := store.List(ctx, "snapshots/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "snapshots/a.json", list[0].Key)
	assert.Equal(t, "snapshots/b.json", list[1].Key)

	removed, err := store.Delete(ctx, "snapshots/a.json")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = store.Delete(ctx, "snapshots/a.json")
	require.NoError(t, err)
	assert.False(t, removed)

	_, _, err = store.Get(ctx, "snapshots/a.json")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("fail") }

func TestPutReadError(t *testing.T) {
	_, err := New().Put(context.Background(), "bad", failingReader{}, core.PutOptions{})
	assert.EqualError(t, err, "read bad: fail")
}
