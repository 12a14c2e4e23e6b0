package migrations

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/evergreen-ci/logsplit/db"
	"github.com/evergreen-ci/logsplit/mock"
	"github.com/evergreen-ci/logsplit/model"
	"github.com/evergreen-ci/logsplit/testutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	_ JournaledStore = &mock.Store{}
	_ Transactor     = &mock.Store{}
	_ JournaledStore = &MongoStore{}
	_ Transactor     = &MongoStore{}
)

const testMaxSize = 10

type recordingObserver struct {
	progress   []int
	progressAt []primitive.ObjectID
	oversized  []primitive.ObjectID
	split      map[primitive.ObjectID]int
	degenerate []primitive.ObjectID
	recovered  []primitive.ObjectID
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{split: map[primitive.ObjectID]int{}}
}

func (o *recordingObserver) Progress(scanned int, next primitive.ObjectID) {
	o.progress = append(o.progress, scanned)
	o.progressAt = append(o.progressAt, next)
}

func (o *recordingObserver) OversizedChunk(chunk *model.LogChunk, _ int) {
	o.oversized = append(o.oversized, chunk.ID)
}

func (o *recordingObserver) ChunkSplit(original *model.LogChunk, replacements []model.LogChunk) {
	o.split[original.ID] = len(replacements)
}

func (o *recordingObserver) DegenerateChunk(chunk *model.LogChunk, _ int) {
	o.degenerate = append(o.degenerate, chunk.ID)
}

func (o *recordingObserver) SplitRecovered(record *model.SplitRecord) {
	o.recovered = append(o.recovered, record.ID)
}

// scopeFixture seeds a build owning one chunk per entry of sizes, where each
// entry lists the payload sizes of the chunk's lines. Line data starts with
// a running index so order can be checked.
type scopeFixture struct {
	build  model.Build
	test   *model.Test
	chunks []model.LogChunk
}

func newScopeFixture(store *mock.Store, withTest bool, sizes ...[]int) *scopeFixture {
	f := &scopeFixture{build: model.Build{ID: primitive.NewObjectID(), Name: "build"}}
	scope := model.Scope{BuildID: f.build.ID}
	if withTest {
		f.test = &model.Test{ID: primitive.NewObjectID(), Name: "test", BuildID: f.build.ID, Seq: len(sizes)}
		scope.TestID = &f.test.ID
	} else {
		f.build.Seq = len(sizes)
	}

	started := time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	for i, lineSizes := range sizes {
		chunkStarted := started.Add(time.Duration(i) * time.Hour)
		chunk := model.LogChunk{
			ID:      primitive.NewObjectID(),
			BuildID: scope.BuildID,
			TestID:  scope.TestID,
			Seq:     i + 1,
			Started: &chunkStarted,
		}
		for _, size := range lineSizes {
			data := string(rune('a' + n%26))
			chunk.Lines = append(chunk.Lines, model.Line{
				Time: chunkStarted.Add(time.Duration(n) * time.Second),
				Data: data + strings.Repeat(".", size-1),
			})
			n++
		}
		f.chunks = append(f.chunks, chunk)
	}

	store.PutBuild(f.build)
	if f.test != nil {
		store.PutTest(*f.test)
	}
	for _, c := range f.chunks {
		store.PutChunk(c)
	}

	return f
}

func (f *scopeFixture) scope() model.Scope {
	if f.test != nil {
		return model.Scope{BuildID: f.build.ID, TestID: &f.test.ID}
	}

	return model.Scope{BuildID: f.build.ID}
}

func (f *scopeFixture) lines() []model.Line {
	var lines []model.Line
	for _, c := range f.chunks {
		lines = append(lines, c.Lines...)
	}

	return lines
}

// layout is the line data of every chunk of the scope, in seq order.
func layout(store *mock.Store, scope model.Scope) [][]string {
	out := [][]string{}
	for _, c := range store.Chunks(scope) {
		lines := []string{}
		for _, l := range c.Lines {
			lines = append(lines, l.Data)
		}
		out = append(out, lines)
	}

	return out
}

func newTestDriver(t *testing.T, store Store, opts Options, observer Observer) *Driver {
	if opts.MaxSize == 0 {
		opts.MaxSize = testMaxSize
	}
	d, err := NewDriver(store, opts, observer)
	require.NoError(t, err)

	return d
}

func TestOptionsValidate(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		opts := Options{}
		require.NoError(t, opts.Validate())
		assert.Equal(t, 4*1024*1024, opts.MaxSize)
		assert.Equal(t, 10000, opts.ProgressInterval)
	})
	t.Run("NegativeMaxSize", func(t *testing.T) {
		opts := Options{MaxSize: -1}
		assert.Error(t, opts.Validate())
	})
	t.Run("NegativeInterval", func(t *testing.T) {
		opts := Options{ProgressInterval: -1}
		assert.Error(t, opts.Validate())
	})
	t.Run("NilStore", func(t *testing.T) {
		_, err := NewDriver(nil, Options{}, nil)
		assert.Error(t, err)
	})
}

func TestDriverScenarios(t *testing.T) {
	ctx := context.Background()

	for name, makeScenario := range map[string]func() *testutil.Scenario{
		"Global":     testutil.GlobalScenario,
		"TestScoped": testutil.TestScopedScenario,
	} {
		t.Run(name, func(t *testing.T) {
			for _, useTransactions := range []bool{false, true} {
				store := mock.NewStore()
				fs := testutil.NewMemoryFixtures(store)
				scenario := makeScenario()
				require.NoError(t, scenario.Insert(ctx, fs))

				d := newTestDriver(t, store, Options{MaxSize: 4 * 1024 * 1024, UseTransactions: useTransactions}, nil)
				report, err := d.Run(ctx)
				require.NoError(t, err)
				assert.Equal(t, 3, report.Scanned)
				assert.Equal(t, 1, report.Oversized)
				assert.Equal(t, 1, report.Split)
				assert.Equal(t, 1, report.ChunksAdded)

				require.NoError(t, scenario.Check(ctx, fs, 4*1024*1024))
				pending, err := store.FindPendingSplits(ctx)
				require.NoError(t, err)
				assert.Empty(t, pending)
			}
		})
	}
}

func TestDriverRun(t *testing.T) {
	ctx := context.Background()

	t.Run("CompliantStoreIsUntouched", func(t *testing.T) {
		store := mock.NewStore()
		f := newScopeFixture(store, false, []int{3, 3}, []int{10}, []int{1})
		before := store.AllChunks()

		report, err := newTestDriver(t, store, Options{}, nil).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Scanned)
		assert.Zero(t, report.Oversized)
		assert.Zero(t, store.Writes)
		assert.Equal(t, before, store.AllChunks())

		build, err := store.FindBuild(ctx, f.build.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, build.Seq)
	})
	t.Run("EmptyStore", func(t *testing.T) {
		store := mock.NewStore()
		report, err := newTestDriver(t, store, Options{}, nil).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, &Report{}, report)
	})
	t.Run("SplitsEveryOversizedChunkInScope", func(t *testing.T) {
		for _, withTest := range []bool{false, true} {
			store := mock.NewStore()
			f := newScopeFixture(store, withTest, []int{6, 6, 6}, []int{2}, []int{8, 8}, []int{1})

			report, err := newTestDriver(t, store, Options{}, nil).Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, report.Split)
			assert.Equal(t, 3, report.ChunksAdded)

			require.NoError(t, testutil.CheckScope(ctx, testutil.NewMemoryFixtures(store), f.scope(), f.lines(), testMaxSize))
			chunks := store.Chunks(f.scope())
			require.Len(t, chunks, 7)
			for i, c := range chunks {
				assert.Len(t, c.Lines, 1, "chunk %d", i+1)
			}
			assert.Equal(t, f.chunks[1].ID, chunks[3].ID)
			assert.Equal(t, f.chunks[3].ID, chunks[6].ID)
			assert.Equal(t, f.chunks[2].Started, chunks[4].Started)
			assert.Equal(t, f.chunks[2].Started, chunks[5].Started)
		}
	})
	t.Run("OtherScopesAreUntouched", func(t *testing.T) {
		store := mock.NewStore()
		global := newScopeFixture(store, false, []int{1}, []int{6, 6})

		test := model.Test{ID: primitive.NewObjectID(), BuildID: global.build.ID, Seq: 2}
		store.PutTest(test)
		testScope := model.Scope{BuildID: global.build.ID, TestID: &test.ID}
		for seq := 1; seq <= 2; seq++ {
			store.PutChunk(model.LogChunk{
				ID:      primitive.NewObjectID(),
				BuildID: global.build.ID,
				TestID:  &test.ID,
				Seq:     seq,
				Lines:   []model.Line{{Data: "x"}},
			})
		}
		testChunks := store.Chunks(testScope)

		_, err := newTestDriver(t, store, Options{}, nil).Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, testChunks, store.Chunks(testScope))
		storedTest, err := store.FindTest(ctx, test.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, storedTest.Seq)
		build, err := store.FindBuild(ctx, global.build.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, build.Seq)
	})
	t.Run("SecondRunChangesNothing", func(t *testing.T) {
		store := mock.NewStore()
		f := newScopeFixture(store, true, []int{4}, []int{6, 6, 6}, []int{9})
		d := newTestDriver(t, store, Options{}, nil)

		_, err := d.Run(ctx)
		require.NoError(t, err)
		after := store.AllChunks()
		writes := store.Writes

		report, err := d.Run(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.Split)
		assert.Equal(t, writes, store.Writes)
		assert.Equal(t, after, store.AllChunks())
		test, err := store.FindTest(ctx, f.test.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, test.Seq)
	})
	t.Run("DegenerateChunkIsLeftAlone", func(t *testing.T) {
		store := mock.NewStore()
		f := newScopeFixture(store, false, []int{20}, []int{5})
		observer := newRecordingObserver()

		report, err := newTestDriver(t, store, Options{}, observer).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Oversized)
		assert.Equal(t, 1, report.Degenerate)
		assert.Zero(t, report.Split)
		assert.Zero(t, store.Writes)
		assert.Equal(t, []primitive.ObjectID{f.chunks[0].ID}, observer.degenerate)
		assert.Empty(t, observer.split)
	})
	t.Run("EmptyChunkIsNotOversized", func(t *testing.T) {
		store := mock.NewStore()
		newScopeFixture(store, false, []int{})

		report, err := newTestDriver(t, store, Options{}, nil).Run(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.Oversized)
	})
	t.Run("DryRunWritesNothing", func(t *testing.T) {
		store := mock.NewStore()
		f := newScopeFixture(store, false, []int{6, 6}, []int{6, 6, 6})
		observer := newRecordingObserver()

		report, err := newTestDriver(t, store, Options{DryRun: true}, observer).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Split)
		assert.Equal(t, 3, report.ChunksAdded)
		assert.Zero(t, store.Writes)
		assert.Len(t, store.Chunks(f.scope()), 2)
		assert.Equal(t, []primitive.ObjectID{f.chunks[0].ID, f.chunks[1].ID}, observer.oversized)
		assert.Empty(t, observer.split)

		pending, err := store.FindPendingSplits(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
	t.Run("ReportsProgress", func(t *testing.T) {
		store := mock.NewStore()
		f := newScopeFixture(store, false, []int{1}, []int{1}, []int{1}, []int{1}, []int{1})
		observer := newRecordingObserver()

		report, err := newTestDriver(t, store, Options{ProgressInterval: 2}, observer).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, report.Scanned)
		assert.Equal(t, []int{2, 4}, observer.progress)
		assert.Equal(t, []primitive.ObjectID{f.chunks[2].ID, f.chunks[4].ID}, observer.progressAt)
	})
	t.Run("ScanFailureIsFatal", func(t *testing.T) {
		store := mock.NewStore()
		newScopeFixture(store, false, []int{6, 6})
		store.Fail(mock.OpScan, errors.New("connection reset"))

		_, err := newTestDriver(t, store, Options{}, nil).Run(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.Zero(t, store.Writes)
	})
	t.Run("CanceledContextStopsScan", func(t *testing.T) {
		store := mock.NewStore()
		newScopeFixture(store, false, []int{6, 6})
		tctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := newTestDriver(t, store, Options{}, nil).Run(tctx)
		require.Error(t, err)
		assert.Equal(t, context.Canceled, errors.Cause(err))
	})
	t.Run("MissingOwnerIsFatal", func(t *testing.T) {
		store := mock.NewStore()
		store.PutChunk(model.LogChunk{
			ID:      primitive.NewObjectID(),
			BuildID: primitive.NewObjectID(),
			Seq:     1,
			Lines:   []model.Line{{Data: "123456"}, {Data: "123456"}},
		})

		_, err := newTestDriver(t, store, Options{}, nil).Run(ctx)
		require.Error(t, err)
		assert.True(t, db.ResultsNotFound(err))
		assert.Zero(t, store.Writes)
	})
	t.Run("CounterDriftIsFatal", func(t *testing.T) {
		store := mock.NewStore()
		f := newScopeFixture(store, false, []int{6, 6}, []int{1})
		record := model.NewSplitRecord(&f.chunks[0], model.Split(&f.chunks[0], testMaxSize, model.NewIDs()), 3, testMaxSize)
		require.NoError(t, store.RecordSplit(ctx, record))

		_, err := newTestDriver(t, store, Options{}, nil).Run(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected 3 before the split or 4 after it")
	})
}

func TestDriverTransactions(t *testing.T) {
	ctx := context.Background()

	for _, op := range []mock.Operation{mock.OpShift, mock.OpIncrementOwner, mock.OpInsert, mock.OpDelete} {
		t.Run(string(op), func(t *testing.T) {
			store := mock.NewStore()
			f := newScopeFixture(store, false, []int{1}, []int{6, 6}, []int{1})
			before := store.AllChunks()
			d := newTestDriver(t, store, Options{UseTransactions: true}, nil)

			store.Fail(op, errors.New("write failed"))
			_, err := d.Run(ctx)
			require.Error(t, err)

			assert.Equal(t, before, store.AllChunks())
			assert.Zero(t, store.Writes)
			build, err := store.FindBuild(ctx, f.build.ID)
			require.NoError(t, err)
			assert.Equal(t, 3, build.Seq)
			pending, err := store.FindPendingSplits(ctx)
			require.NoError(t, err)
			assert.Empty(t, pending)

			_, err = d.Run(ctx)
			require.NoError(t, err)
			require.NoError(t, testutil.CheckScope(ctx, testutil.NewMemoryFixtures(store), f.scope(), f.lines(), testMaxSize))
		})
	}
}
