package migrations

import (
	"context"

	"github.com/evergreen-ci/logsplit/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store is the backing store the splitter runs against. Every method is
// synchronous.
type Store interface {
	// ScanChunks iterates over the chunks present when the scan begins in
	// ascending ID order. Chunks inserted after the scan begins are not
	// returned.
	ScanChunks(ctx context.Context) (model.ChunkIterator, error)
	// FindChunk returns the chunk with the given ID, or an error satisfying
	// db.ResultsNotFound.
	FindChunk(ctx context.Context, id primitive.ObjectID) (*model.LogChunk, error)
	FindBuild(ctx context.Context, id primitive.ObjectID) (*model.Build, error)
	FindTest(ctx context.Context, id primitive.ObjectID) (*model.Test, error)

	// ShiftChunks adds inc to the seq of every chunk in the scope with a
	// seq greater than afterSeq and a split marker other than marker, and
	// sets their marker. It returns the number of chunks shifted.
	ShiftChunks(ctx context.Context, scope model.Scope, afterSeq, inc int, marker primitive.ObjectID) (int, error)
	// IncrementOwnerSeq adds inc to the counter of the scope's owner if the
	// counter currently equals expected. It returns whether the increment
	// was applied.
	IncrementOwnerSeq(ctx context.Context, scope model.Scope, expected, inc int) (bool, error)
	// InsertChunks inserts chunks in order. Chunks whose IDs already exist
	// are left as they are.
	InsertChunks(ctx context.Context, chunks []model.LogChunk) error
	// DeleteChunk removes a chunk. Deleting a missing chunk is not an
	// error.
	DeleteChunk(ctx context.Context, id primitive.ObjectID) error
}

// Journal persists the write-ahead records of splits in progress.
type Journal interface {
	RecordSplit(ctx context.Context, record *model.SplitRecord) error
	SetSplitStage(ctx context.Context, id primitive.ObjectID, stage model.SplitStage) error
	FindPendingSplits(ctx context.Context) ([]model.SplitRecord, error)
	RemoveSplit(ctx context.Context, id primitive.ObjectID) error
}

// Transactor is implemented by stores that can apply a group of writes
// atomically.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}

// JournaledStore is a store that also keeps a split journal.
type JournaledStore interface {
	Store
	Journal
}

// ownerSeq reads the counter of the scope's owner: the test when the scope
// has one, otherwise the build.
func ownerSeq(ctx context.Context, store Store, scope model.Scope) (int, error) {
	if scope.HasTest() {
		test, err := store.FindTest(ctx, *scope.TestID)
		if err != nil {
			return 0, err
		}
		return test.Seq, nil
	}

	build, err := store.FindBuild(ctx, scope.BuildID)
	if err != nil {
		return 0, err
	}

	return build.Seq, nil
}
