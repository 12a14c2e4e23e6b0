package model

import (
	"github.com/mongodb/anser/bsonutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Test belongs to exactly one build. Seq counts the chunks the test owns.
type Test struct {
	ID      primitive.ObjectID `bson:"_id"`
	Name    string             `bson:"name"`
	BuildID primitive.ObjectID `bson:"build_id"`
	Seq     int                `bson:"seq"`
}

var (
	TestIDKey      = bsonutil.MustHaveTag(Test{}, "ID")
	TestNameKey    = bsonutil.MustHaveTag(Test{}, "Name")
	TestBuildIDKey = bsonutil.MustHaveTag(Test{}, "BuildID")
	TestSeqKey     = bsonutil.MustHaveTag(Test{}, "Seq")
)
