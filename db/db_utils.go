package db

import (
	"context"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChangeInfo summarizes the effect of a write.
type ChangeInfo struct {
	Matched int
	Updated int
	Removed int
}

// FindOneID decodes the document with the given _id into out. It returns
// ErrNotFound when no such document exists.
func FindOneID(ctx context.Context, db *mongo.Database, collection string, id, out any) error {
	err := db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}

	return errors.Wrapf(err, "finding document in '%s'", collection)
}

// Insert inserts the specified item into the specified collection.
func Insert(ctx context.Context, db *mongo.Database, collection string, item any) error {
	_, err := db.Collection(collection).InsertOne(ctx, item)
	return errors.Wrapf(errors.WithStack(err), "inserting document into '%s'", collection)
}

// InsertManyUnordered inserts the items without stopping at the first
// failure, so a retried insert can fill in whatever an earlier attempt
// missed.
func InsertManyUnordered(ctx context.Context, db *mongo.Database, collection string, items ...any) error {
	if len(items) == 0 {
		return nil
	}

	_, err := db.Collection(collection).InsertMany(ctx, items, options.InsertMany().SetOrdered(false))
	return errors.Wrapf(errors.WithStack(err), "inserting unordered documents into '%s'", collection)
}

// Update updates one matching document in the collection.
func Update(ctx context.Context, db *mongo.Database, collection string, query, update any) (*ChangeInfo, error) {
	res, err := db.Collection(collection).UpdateOne(ctx, query, update)
	if err != nil {
		return nil, errors.Wrapf(err, "updating document in '%s'", collection)
	}

	return &ChangeInfo{Matched: int(res.MatchedCount), Updated: int(res.ModifiedCount)}, nil
}

// UpdateAll updates all matching documents in the collection.
func UpdateAll(ctx context.Context, db *mongo.Database, collection string, query, update any) (*ChangeInfo, error) {
	if query == nil {
		grip.EmergencyPanic(message.Fields{
			"message":    "nil query passed to update all",
			"cause":      "programmer error",
			"collection": collection,
		})
	}

	res, err := db.Collection(collection).UpdateMany(ctx, query, update)
	if err != nil {
		return nil, errors.Wrapf(err, "updating documents in '%s'", collection)
	}

	return &ChangeInfo{Matched: int(res.MatchedCount), Updated: int(res.ModifiedCount)}, nil
}

// RemoveID removes the document with the given _id. Removing a document
// that does not exist is not an error.
func RemoveID(ctx context.Context, db *mongo.Database, collection string, id any) (*ChangeInfo, error) {
	res, err := db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, errors.Wrapf(err, "deleting document from '%s'", collection)
	}

	return &ChangeInfo{Removed: int(res.DeletedCount)}, nil
}

// Count returns the number of documents matching the query.
func Count(ctx context.Context, db *mongo.Database, collection string, query any) (int, error) {
	n, err := db.Collection(collection).CountDocuments(ctx, query)
	return int(n), errors.Wrapf(err, "counting documents in '%s'", collection)
}

// ClearCollections removes every document from the named collections,
// returning immediately if clearing any one of them fails.
func ClearCollections(ctx context.Context, db *mongo.Database, collections ...string) error {
	for _, collection := range collections {
		if _, err := db.Collection(collection).DeleteMany(ctx, bson.M{}); err != nil {
			return errors.Wrapf(err, "clearing collection '%s'", collection)
		}
	}

	return nil
}
