package testutil

import (
	"context"

	"github.com/evergreen-ci/logsplit"
	"github.com/evergreen-ci/logsplit/db"
	"github.com/evergreen-ci/logsplit/mock"
	"github.com/evergreen-ci/logsplit/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// FixtureStore is the minimal surface fixtures need to seed a store and read
// back the result of a migration.
type FixtureStore interface {
	PutBuild(context.Context, model.Build) error
	PutTest(context.Context, model.Test) error
	PutChunk(context.Context, model.LogChunk) error
	Build(context.Context, primitive.ObjectID) (*model.Build, error)
	Test(context.Context, primitive.ObjectID) (*model.Test, error)
	// Chunks returns the chunks of a scope ordered by seq.
	Chunks(context.Context, model.Scope) ([]model.LogChunk, error)
	// Teardown removes everything the fixtures created.
	Teardown(context.Context) error
}

type memoryFixtures struct {
	store *mock.Store
}

// NewMemoryFixtures seeds an in-memory store.
func NewMemoryFixtures(store *mock.Store) FixtureStore {
	return &memoryFixtures{store: store}
}

func (f *memoryFixtures) PutBuild(_ context.Context, b model.Build) error {
	f.store.PutBuild(b)
	return nil
}

func (f *memoryFixtures) PutTest(_ context.Context, t model.Test) error {
	f.store.PutTest(t)
	return nil
}

func (f *memoryFixtures) PutChunk(_ context.Context, c model.LogChunk) error {
	f.store.PutChunk(c)
	return nil
}

func (f *memoryFixtures) Build(ctx context.Context, id primitive.ObjectID) (*model.Build, error) {
	return f.store.FindBuild(ctx, id)
}

func (f *memoryFixtures) Test(ctx context.Context, id primitive.ObjectID) (*model.Test, error) {
	return f.store.FindTest(ctx, id)
}

func (f *memoryFixtures) Chunks(_ context.Context, scope model.Scope) ([]model.LogChunk, error) {
	return f.store.Chunks(scope), nil
}

func (f *memoryFixtures) Teardown(context.Context) error { return nil }

type mongoFixtures struct {
	db *mongo.Database
}

// NewMongoFixtures seeds a MongoDB database. Teardown drops the whole
// database, so it must be one dedicated to testing.
func NewMongoFixtures(database *mongo.Database) FixtureStore {
	return &mongoFixtures{db: database}
}

func (f *mongoFixtures) PutBuild(ctx context.Context, b model.Build) error {
	return db.Insert(ctx, f.db, logsplit.BuildsCollection, b)
}

func (f *mongoFixtures) PutTest(ctx context.Context, t model.Test) error {
	return db.Insert(ctx, f.db, logsplit.TestsCollection, t)
}

func (f *mongoFixtures) PutChunk(ctx context.Context, c model.LogChunk) error {
	return db.Insert(ctx, f.db, logsplit.LogsCollection, c)
}

func (f *mongoFixtures) Build(ctx context.Context, id primitive.ObjectID) (*model.Build, error) {
	b := &model.Build{}
	if err := db.FindOneID(ctx, f.db, logsplit.BuildsCollection, id, b); err != nil {
		return nil, errors.Wrapf(err, "finding build '%s'", id.Hex())
	}

	return b, nil
}

func (f *mongoFixtures) Test(ctx context.Context, id primitive.ObjectID) (*model.Test, error) {
	t := &model.Test{}
	if err := db.FindOneID(ctx, f.db, logsplit.TestsCollection, id, t); err != nil {
		return nil, errors.Wrapf(err, "finding test '%s'", id.Hex())
	}

	return t, nil
}

func (f *mongoFixtures) Chunks(ctx context.Context, scope model.Scope) ([]model.LogChunk, error) {
	cursor, err := f.db.Collection(logsplit.LogsCollection).Find(ctx, scope.Filter(),
		options.Find().SetSort(map[string]int{model.LogChunkSeqKey: 1}))
	if err != nil {
		return nil, errors.Wrapf(err, "finding chunks of %s", scope)
	}

	chunks := []model.LogChunk{}
	if err = cursor.All(ctx, &chunks); err != nil {
		return nil, errors.Wrapf(err, "decoding chunks of %s", scope)
	}

	return chunks, nil
}

func (f *mongoFixtures) Teardown(ctx context.Context) error {
	return errors.Wrapf(f.db.Drop(ctx), "dropping database '%s'", f.db.Name())
}
