package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDSource allocates the identities of replacement chunks.
type IDSource func() primitive.ObjectID

// NewIDs allocates fresh ObjectIDs.
func NewIDs() IDSource { return primitive.NewObjectID }

// RecordedIDs hands out ids in order. Once they run out it returns the nil
// ObjectID, which callers treat as a mismatch with the recorded split.
func RecordedIDs(ids []primitive.ObjectID) IDSource {
	next := 0
	return func() primitive.ObjectID {
		if next >= len(ids) {
			return primitive.NilObjectID
		}
		id := ids[next]
		next++
		return id
	}
}

// Split partitions the lines of chunk into consecutive replacement chunks
// whose payloads fit within maxSize. The replacements keep the owner scope
// and start time of the original and take seq values starting at the
// original's seq. Line order is preserved and lines are never divided, so a
// single line larger than maxSize ends up alone in a chunk that is still
// oversized. A chunk with zero or one line always yields exactly one
// replacement.
func Split(chunk *LogChunk, maxSize int, ids IDSource) []LogChunk {
	marker := chunk.ID
	newChunk := func(seq int) LogChunk {
		var started *time.Time
		if chunk.Started != nil {
			ts := *chunk.Started
			started = &ts
		}
		return LogChunk{
			ID:          ids(),
			BuildID:     chunk.BuildID,
			TestID:      chunk.TestID,
			Seq:         seq,
			Started:     started,
			SplitMarker: &marker,
		}
	}

	current := newChunk(chunk.Seq)
	currentSize := 0
	var out []LogChunk

	for _, line := range chunk.Lines {
		if currentSize+line.Size() > maxSize && len(current.Lines) > 0 {
			out = append(out, current)
			current = newChunk(current.Seq + 1)
			currentSize = 0
		}

		current.Lines = append(current.Lines, line)
		currentSize += line.Size()
	}

	return append(out, current)
}
