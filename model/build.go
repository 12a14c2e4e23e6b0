package model

import (
	"github.com/mongodb/anser/bsonutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Build is the root container of a build's logs. Seq counts the chunks the
// build owns directly, i.e. the ones not attached to a test.
type Build struct {
	ID   primitive.ObjectID `bson:"_id"`
	Name string             `bson:"name"`
	Seq  int                `bson:"seq"`
}

var (
	BuildIDKey   = bsonutil.MustHaveTag(Build{}, "ID")
	BuildNameKey = bsonutil.MustHaveTag(Build{}, "Name")
	BuildSeqKey  = bsonutil.MustHaveTag(Build{}, "Seq")
)
