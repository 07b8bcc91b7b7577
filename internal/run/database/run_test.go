package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-sod/calib/internal/database"
	"github.com/go-sod/calib/internal/run/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewFromEnv(ctx, &database.Config{FileName: filepath.Join(t.TempDir(), "runs.db"), OpenTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(ctx) })
	return New(db)
}

func TestDB_StoreFind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	late := model.NewRun(model.KindTabular, nil, "late", base.Add(2*time.Hour))
	early := model.NewRun(model.KindTabular, nil, "early", base)
	seq := model.NewRun(model.KindSequence, nil, "seq", base.Add(time.Hour))
	seq.Model = []byte{1, 2, 3}
	for _, r := range []model.Run{late, early, seq} {
		require.NoError(t, db.Store(ctx, r))
	}

	kinds, err := db.Kinds()
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.Kind{model.KindTabular, model.KindSequence}, kinds)

	tab, err := db.FindByKind(ctx, model.KindTabular, nil)
	require.NoError(t, err)
	require.Len(t, tab, 2)
	assert.Equal(t, early.ID, tab[0].ID)
	assert.Equal(t, late.ID, tab[1].ID)

	all, err := db.FindAll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uuid.UUID{early.ID, seq.ID, late.ID}, []uuid.UUID{all[0].ID, all[1].ID, all[2].ID})

	filtered, err := db.FindAll(ctx, func(r model.Run) bool { return len(r.Model) > 0 })
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, []byte{1, 2, 3}, filtered[0].Model)

	n, err := db.CountByKind(model.KindTabular)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDB_GetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	_, found, err := db.Get(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, found)

	run := model.NewRun(model.KindSequence, map[string]int{"window": 50}, nil, time.Now().UTC())
	require.NoError(t, db.Store(ctx, run))

	got, found, err := db.Get(ctx, run.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.KindSequence, got.Kind)
	assert.Equal(t, map[string]interface{}{"window": float64(50)}, got.Config)

	require.NoError(t, db.Delete(ctx, run))
	_, found, err = db.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, found)

	n, err := db.CountByKind(model.KindTabular)
	require.NoError(t, err)
	assert.Zero(t, n)
}
