package model

import (
	"context"
	"fmt"
	"time"

	"github.com/mongodb/anser/bsonutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LogChunk is one stored group of lines. Seq is the 1-based position of the
// chunk within its owner scope. Started is nil for legacy chunks stored
// with a null start time.
type LogChunk struct {
	ID      primitive.ObjectID  `bson:"_id"`
	BuildID primitive.ObjectID  `bson:"build_id"`
	TestID  *primitive.ObjectID `bson:"test_id,omitempty"`
	Seq     int                 `bson:"seq"`
	Started *time.Time          `bson:"started"`
	Lines   []Line              `bson:"lines"`

	// SplitMarker holds the ID of the original chunk whose split last
	// inserted or shifted this chunk.
	SplitMarker *primitive.ObjectID `bson:"split_marker,omitempty"`
}

var (
	LogChunkIDKey          = bsonutil.MustHaveTag(LogChunk{}, "ID")
	LogChunkBuildIDKey     = bsonutil.MustHaveTag(LogChunk{}, "BuildID")
	LogChunkTestIDKey      = bsonutil.MustHaveTag(LogChunk{}, "TestID")
	LogChunkSeqKey         = bsonutil.MustHaveTag(LogChunk{}, "Seq")
	LogChunkStartedKey     = bsonutil.MustHaveTag(LogChunk{}, "Started")
	LogChunkLinesKey       = bsonutil.MustHaveTag(LogChunk{}, "Lines")
	LogChunkSplitMarkerKey = bsonutil.MustHaveTag(LogChunk{}, "SplitMarker")
)

// Scope returns the owner scope of the chunk.
func (c *LogChunk) Scope() Scope {
	return Scope{BuildID: c.BuildID, TestID: c.TestID}
}

// Scope identifies the owner of a chunk: a build on its own, or a test
// within a build. Seq values are unique only within a scope.
type Scope struct {
	BuildID primitive.ObjectID
	TestID  *primitive.ObjectID
}

// HasTest reports whether the scope is owned by a test.
func (s Scope) HasTest() bool { return s.TestID != nil }

// Equal reports whether both scopes name the same owner.
func (s Scope) Equal(other Scope) bool {
	if s.BuildID != other.BuildID {
		return false
	}
	if s.TestID == nil || other.TestID == nil {
		return s.TestID == nil && other.TestID == nil
	}

	return *s.TestID == *other.TestID
}

func (s Scope) String() string {
	if s.TestID == nil {
		return fmt.Sprintf("build '%s'", s.BuildID.Hex())
	}

	return fmt.Sprintf("build '%s' test '%s'", s.BuildID.Hex(), s.TestID.Hex())
}

// Filter matches every chunk in the scope. A nil test ID matches chunks
// with no test_id field as well as ones where it is null.
func (s Scope) Filter() bson.M {
	filter := bson.M{LogChunkBuildIDKey: s.BuildID}
	if s.TestID != nil {
		filter[LogChunkTestIDKey] = *s.TestID
	} else {
		filter[LogChunkTestIDKey] = nil
	}

	return filter
}

// ShiftableSiblings matches the chunks in the scope positioned after
// afterSeq that have not already been touched by the split identified by
// marker.
func ShiftableSiblings(scope Scope, afterSeq int, marker primitive.ObjectID) bson.M {
	filter := scope.Filter()
	filter[LogChunkSeqKey] = bson.M{"$gt": afterSeq}
	filter[LogChunkSplitMarkerKey] = bson.M{"$ne": marker}

	return filter
}

// ChunkIterator walks chunks one at a time. Callers must check Err after
// Next returns false and always Close the iterator.
type ChunkIterator interface {
	Next(context.Context) bool
	Item() *LogChunk
	Err() error
	Close(context.Context) error
}
