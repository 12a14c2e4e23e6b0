package migrations

import (
	"context"

	"github.com/evergreen-ci/logsplit"
	"github.com/evergreen-ci/logsplit/db"
	"github.com/evergreen-ci/logsplit/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const scanBatchSize = 64

// MongoStore implements Store, Journal and Transactor on top of a MongoDB
// database holding the builds, tests and logs collections.
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore returns a store backed by database.
func NewMongoStore(database *mongo.Database) *MongoStore {
	return &MongoStore{db: database}
}

func (s *MongoStore) ScanChunks(ctx context.Context) (model.ChunkIterator, error) {
	coll := s.db.Collection(logsplit.LogsCollection)

	// Bound the scan by the newest chunk that exists now so replacements
	// inserted during the pass are never visited.
	last := struct {
		ID primitive.ObjectID `bson:"_id"`
	}{}
	err := coll.FindOne(ctx, bson.M{}, options.FindOne().
		SetSort(bson.D{{Key: model.LogChunkIDKey, Value: -1}}).
		SetProjection(bson.M{model.LogChunkIDKey: 1})).Decode(&last)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &emptyIterator{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "finding last chunk")
	}

	cursor, err := coll.Find(ctx,
		bson.M{model.LogChunkIDKey: bson.M{"$lte": last.ID}},
		options.Find().
			SetSort(bson.D{{Key: model.LogChunkIDKey, Value: 1}}).
			SetBatchSize(scanBatchSize).
			SetNoCursorTimeout(true))
	if err != nil {
		return nil, errors.Wrap(err, "opening chunk cursor")
	}

	return &mongoChunkIterator{cursor: cursor}, nil
}

func (s *MongoStore) FindChunk(ctx context.Context, id primitive.ObjectID) (*model.LogChunk, error) {
	chunk := &model.LogChunk{}
	if err := db.FindOneID(ctx, s.db, logsplit.LogsCollection, id, chunk); err != nil {
		return nil, errors.Wrapf(err, "finding chunk '%s'", id.Hex())
	}

	return chunk, nil
}

func (s *MongoStore) FindBuild(ctx context.Context, id primitive.ObjectID) (*model.Build, error) {
	build := &model.Build{}
	if err := db.FindOneID(ctx, s.db, logsplit.BuildsCollection, id, build); err != nil {
		return nil, errors.Wrapf(err, "finding build '%s'", id.Hex())
	}

	return build, nil
}

func (s *MongoStore) FindTest(ctx context.Context, id primitive.ObjectID) (*model.Test, error) {
	test := &model.Test{}
	if err := db.FindOneID(ctx, s.db, logsplit.TestsCollection, id, test); err != nil {
		return nil, errors.Wrapf(err, "finding test '%s'", id.Hex())
	}

	return test, nil
}

func (s *MongoStore) ShiftChunks(ctx context.Context, scope model.Scope, afterSeq, inc int, marker primitive.ObjectID) (int, error) {
	info, err := db.UpdateAll(ctx, s.db, logsplit.LogsCollection,
		model.ShiftableSiblings(scope, afterSeq, marker),
		bson.M{
			"$inc": bson.M{model.LogChunkSeqKey: inc},
			"$set": bson.M{model.LogChunkSplitMarkerKey: marker},
		})
	if err != nil {
		return 0, errors.Wrapf(err, "shifting chunks in %s", scope)
	}

	return info.Updated, nil
}

func (s *MongoStore) IncrementOwnerSeq(ctx context.Context, scope model.Scope, expected, inc int) (bool, error) {
	collection, id, seqKey := logsplit.BuildsCollection, scope.BuildID, model.BuildSeqKey
	if scope.HasTest() {
		collection, id, seqKey = logsplit.TestsCollection, *scope.TestID, model.TestSeqKey
	}

	info, err := db.Update(ctx, s.db, collection,
		bson.M{"_id": id, seqKey: expected},
		bson.M{"$inc": bson.M{seqKey: inc}})
	if err != nil {
		return false, errors.Wrapf(err, "incrementing seq of %s", scope)
	}

	return info.Matched == 1, nil
}

func (s *MongoStore) InsertChunks(ctx context.Context, chunks []model.LogChunk) error {
	docs := make([]any, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, c)
	}

	err := db.InsertManyUnordered(ctx, s.db, logsplit.LogsCollection, docs...)
	if db.IsOnlyDuplicateKeys(err) {
		return nil
	}

	return err
}

func (s *MongoStore) DeleteChunk(ctx context.Context, id primitive.ObjectID) error {
	_, err := db.RemoveID(ctx, s.db, logsplit.LogsCollection, id)
	return errors.Wrapf(err, "deleting chunk '%s'", id.Hex())
}

func (s *MongoStore) RecordSplit(ctx context.Context, record *model.SplitRecord) error {
	_, err := s.db.Collection(logsplit.SplitJournalCollection).ReplaceOne(ctx,
		bson.M{model.SplitRecordIDKey: record.ID},
		record,
		options.Replace().SetUpsert(true))

	return errors.Wrapf(err, "recording split of chunk '%s'", record.ID.Hex())
}

func (s *MongoStore) SetSplitStage(ctx context.Context, id primitive.ObjectID, stage model.SplitStage) error {
	_, err := db.Update(ctx, s.db, logsplit.SplitJournalCollection,
		bson.M{model.SplitRecordIDKey: id},
		bson.M{"$set": bson.M{model.SplitRecordStageKey: stage}})

	return errors.Wrapf(err, "setting stage of split '%s'", id.Hex())
}

func (s *MongoStore) FindPendingSplits(ctx context.Context) ([]model.SplitRecord, error) {
	cursor, err := s.db.Collection(logsplit.SplitJournalCollection).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{
			{Key: model.SplitRecordCreatedAtKey, Value: 1},
			{Key: model.SplitRecordIDKey, Value: 1},
		}))
	if err != nil {
		return nil, errors.Wrap(err, "finding pending splits")
	}

	records := []model.SplitRecord{}
	if err = cursor.All(ctx, &records); err != nil {
		return nil, errors.Wrap(err, "decoding pending splits")
	}

	return records, nil
}

func (s *MongoStore) RemoveSplit(ctx context.Context, id primitive.ObjectID) error {
	_, err := db.RemoveID(ctx, s.db, logsplit.SplitJournalCollection, id)
	return errors.Wrapf(err, "removing split record '%s'", id.Hex())
}

// WithTransaction runs fn in a multi-document transaction. The context fn
// receives carries the session, so store calls made with it join the
// transaction.
func (s *MongoStore) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	session, err := s.db.Client().StartSession()
	if err != nil {
		return errors.Wrap(err, "starting session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sctx mongo.SessionContext) (any, error) {
		return nil, fn(sctx)
	})

	return errors.Wrap(err, "running transaction")
}

type mongoChunkIterator struct {
	cursor *mongo.Cursor
	item   *model.LogChunk
	err    error
}

func (it *mongoChunkIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if !it.cursor.Next(ctx) {
		it.err = errors.Wrap(it.cursor.Err(), "iterating chunks")
		return false
	}

	chunk := &model.LogChunk{}
	if err := it.cursor.Decode(chunk); err != nil {
		it.err = errors.Wrap(err, "decoding chunk")
		return false
	}
	it.item = chunk

	return true
}

func (it *mongoChunkIterator) Item() *model.LogChunk { return it.item }

func (it *mongoChunkIterator) Err() error { return it.err }

func (it *mongoChunkIterator) Close(ctx context.Context) error {
	return errors.Wrap(it.cursor.Close(ctx), "closing chunk cursor")
}

type emptyIterator struct{}

func (*emptyIterator) Next(context.Context) bool   { return false }
func (*emptyIterator) Item() *model.LogChunk       { return nil }
func (*emptyIterator) Err() error                  { return nil }
func (*emptyIterator) Close(context.Context) error { return nil }
