package units

import (
	"context"
	"testing"
	"time"

	"github.com/evergreen-ci/logsplit/migrations"
	"github.com/evergreen-ci/logsplit/mock"
	"github.com/evergreen-ci/logsplit/model"
	"github.com/evergreen-ci/logsplit/testutil"
	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/queue"
	"github.com/mongodb/amboy/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitChunksJob(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	t.Run("Registered", func(t *testing.T) {
		for _, name := range []string{splitChunksJobName, repairSplitsJobName} {
			factory, err := registry.GetJobFactory(name)
			require.NoError(t, err)
			assert.Equal(t, name, factory().Type().Name)
		}
	})
	t.Run("RunsOnLocalQueue", func(t *testing.T) {
		store := mock.NewStore()
		fs := testutil.NewMemoryFixtures(store)
		scenario := testutil.GlobalScenario()
		require.NoError(t, scenario.Insert(ctx, fs))

		q := queue.NewLocalUnordered(1)
		require.NoError(t, q.Start(ctx))
		defer q.Runner().Close(ctx)
		j := NewSplitChunksJob(store, migrations.Options{}, nil, "test")
		require.NoError(t, q.Put(ctx, j))
		require.True(t, amboy.WaitInterval(ctx, q, 10*time.Millisecond))

		require.NoError(t, j.Error())
		report := SplitReport(j)
		require.NotNil(t, report)
		assert.Equal(t, 3, report.Scanned)
		assert.Equal(t, 1, report.Split)
		assert.NoError(t, scenario.Check(ctx, fs, 4*1024*1024))
	})
	t.Run("MissingStore", func(t *testing.T) {
		j := makeSplitChunksJob(splitChunksJobName)
		j.Run(ctx)
		assert.True(t, j.Status().Completed)
		assert.Error(t, j.Error())
		assert.Nil(t, SplitReport(j))
	})
	t.Run("InvalidOptions", func(t *testing.T) {
		j := NewSplitChunksJob(mock.NewStore(), migrations.Options{MaxSize: -1}, nil, "invalid")
		j.Run(ctx)
		assert.Error(t, j.Error())
	})
	t.Run("RepairOnlyResumesJournal", func(t *testing.T) {
		store := mock.NewStore()
		fs := testutil.NewMemoryFixtures(store)
		scenario := testutil.GlobalScenario()
		require.NoError(t, scenario.Insert(ctx, fs))

		original := scenario.Chunks[1]
		record := model.NewSplitRecord(&original, model.Split(&original, 4*1024*1024, model.NewIDs()), 3, 4*1024*1024)
		require.NoError(t, store.RecordSplit(ctx, record))

		j := NewRepairSplitsJob(store, nil, "repair")
		j.Run(ctx)
		require.NoError(t, j.Error())
		report := SplitReport(j)
		require.NotNil(t, report)
		assert.Equal(t, 1, report.Recovered)
		assert.Zero(t, report.Scanned)
		assert.NoError(t, scenario.Check(ctx, fs, 4*1024*1024))
	})
	t.Run("RepairOnlyLeavesOversizedChunks", func(t *testing.T) {
		store := mock.NewStore()
		scenario := testutil.GlobalScenario()
		require.NoError(t, scenario.Insert(ctx, testutil.NewMemoryFixtures(store)))

		j := NewRepairSplitsJob(store, nil, "noop")
		j.Run(ctx)
		require.NoError(t, j.Error())
		assert.Zero(t, store.Writes)
	})
}
