package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spiritcore/internal/config"
	"spiritcore/internal/infra/persistence/memory"
	"spiritcore/internal/infra/persistence/sqlite"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	store, closeFn, err := OpenPersistentStore(config.StorageConfig{Driver: "memory"}, NewDefaultRulesEngine())
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeFn()) }()
	assert.IsType(t, &memory.Store{}, store)
}

func TestOpenPersistentStoreSQLiteSurvivesReopen(t *testing.T) {
	cfg := config.StorageConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "spirit.db")}
	store, closeFn, err := OpenPersistentStore(cfg, NewDefaultRulesEngine())
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, store)

	svc := NewService(store, WithEditGuard(NewEditGuard()))
	study, err := svc.CreateStudy(context.Background(), Study{StudyID: "S-1"})
	require.NoError(t, err)
	require.NoError(t, closeFn())

	reopened, closeAgain, err := OpenPersistentStore(cfg, NewDefaultRulesEngine())
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeAgain()) }()
	found, err := NewService(reopened).FindStudyByCode(context.Background(), "S-1")
	require.NoError(t, err)
	assert.Equal(t, study.ID, found.ID)
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	_, _, err := OpenPersistentStore(config.StorageConfig{Driver: "oracle"}, nil)
	assert.EqualError(t, err, "unknown storage driver oracle")
}
