package archive

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"spiritcore/internal/blob"
	"spiritcore/internal/infra/persistence/memory"
	"spiritcore/internal/infra/persistence/sqlite"
	"spiritcore/pkg/domain"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		study, err := tx.CreateStudy(domain.Study{StudyID: "S-1"})
		if err != nil {
			return err
		}
		group, err := tx.CreateGroup(domain.Group{StudyID: study.ID, ShortName: "1", SubgroupSizes: []int{2}})
		if err != nil {
			return err
		}
		_, err = tx.CreateBiosample(domain.Biosample{SampleID: "p1", AttachedStudyID: &study.ID, InheritedStudyID: &study.ID, InheritedGroupID: &group.ID})
		return err
	})
	require.NoError(t, err)
	return store
}

func fixedClock(ts ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := ts[i]
		if i < len(ts)-1 {
			i++
		}
		return t
	}
}

func TestExportListRestore(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	core, logs := observer.New(zap.InfoLevel)
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	archiver := New(blobs, WithLogger(zap.New(core)), WithClock(fixedClock(first, first.Add(time.Hour))))

	src := seededStore(t)
	info, err := archiver.Export(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/20260301T090000.000000000Z.json", info.Key)
	assert.Equal(t, "1", info.Metadata["biosamples"])

	second, err := archiver.Export(ctx, memory.NewStore(nil))
	require.NoError(t, err)

	list, err := archiver.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	latest, err := archiver.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Key, latest.Key)

	dst := memory.NewStore(nil)
	require.NoError(t, archiver.Restore(ctx, info.Key, dst))
	assert.Equal(t, src.ExportState(), dst.ExportState())

	require.NoError(t, archiver.Restore(ctx, latest.Key, dst))
	assert.Empty(t, dst.ExportState().Studies)

	assert.Equal(t, 2, logs.FilterMessage("snapshot archived").Len())
	assert.Equal(t, 2, logs.FilterMessage("snapshot restored").Len())
}

func TestRestorePersistsThroughSQLite(t *testing.T) {
	ctx := context.Background()
	archiver := New(blob.NewMemory())
	info, err := archiver.Export(ctx, seededStore(t))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "restore.db")
	dst, err := sqlite.NewStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, archiver.Restore(ctx, info.Key, dst))
	require.NoError(t, dst.Close())

	reopened, err := sqlite.NewStore(path, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	assert.Len(t, reopened.ExportState().Biosamples, 1)
}

func TestRestoreRejectsBadArchives(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	archiver := New(blobs)
	dst := memory.NewStore(nil)

	_, err := archiver.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoArchives)

	err = archiver.Restore(ctx, "snapshots/missing.json", dst)
	assert.ErrorIs(t, err, blob.ErrNotFound)

	_, err = blobs.Put(ctx, "snapshots/garbage.json", strings.NewReader("not json"), blob.PutOptions{})
	require.NoError(t, err)
	assert.ErrorContains(t, archiver.Restore(ctx, "snapshots/garbage.json", dst), "decode snapshots/garbage.json")

	_, err = blobs.Put(ctx, "snapshots/future.json", strings.NewReader(`{"format_version":9,"state":{}}`), blob.PutOptions{})
	require.NoError(t, err)
	assert.EqualError(t, archiver.Restore(ctx, "snapshots/future.json", dst), "unsupported snapshot format version 9 in snapshots/future.json")
}

func TestRestoreSurfacesCommitHookFailure(t *testing.T) {
	ctx := context.Background()
	archiver := New(blob.NewMemory())
	info, err := archiver.Export(ctx, seededStore(t))
	require.NoError(t, err)

	dst := memory.NewStore(nil)
	dst.SetCommitHook(func(context.Context, memory.Snapshot) error { return errors.New("read-only") })
	err = archiver.Restore(ctx, info.Key, dst)
	assert.EqualError(t, err, "restore "+info.Key+": read-only")
	assert.Empty(t, dst.ExportState().Studies)
}

func TestExportKeyCollision(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	archiver := New(blob.NewMemory(), WithClock(func() time.Time { return at }))
	_, err := archiver.Export(ctx, memory.NewStore(nil))
	require.NoError(t, err)
	_, err = archiver.Export(ctx, memory.NewStore(nil))
	assert.ErrorIs(t, err, blob.ErrExists)
}
