package model

import (
	"time"

	"github.com/mongodb/anser/bsonutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SplitStage names how far a recorded split has progressed.
type SplitStage string

const (
	SplitStagePlanned              SplitStage = "planned"
	SplitStageSiblingsShifted      SplitStage = "siblings-shifted"
	SplitStageOwnerIncremented     SplitStage = "owner-incremented"
	SplitStageReplacementsInserted SplitStage = "replacements-inserted"
)

// SplitRecord is the journal entry written before a split touches the
// store. It holds everything needed to replay the split: the replacements
// are recomputed from the original chunk with MaxSize and assigned
// ReplacementIDs in order.
type SplitRecord struct {
	ID             primitive.ObjectID   `bson:"_id"`
	BuildID        primitive.ObjectID   `bson:"build_id"`
	TestID         *primitive.ObjectID  `bson:"test_id,omitempty"`
	Seq            int                  `bson:"seq"`
	Inc            int                  `bson:"inc"`
	OwnerSeq       int                  `bson:"owner_seq"`
	MaxSize        int                  `bson:"max_size"`
	ReplacementIDs []primitive.ObjectID `bson:"replacement_ids"`
	Stage          SplitStage           `bson:"stage"`
	CreatedAt      time.Time            `bson:"created_at"`
}

var (
	SplitRecordIDKey        = bsonutil.MustHaveTag(SplitRecord{}, "ID")
	SplitRecordStageKey     = bsonutil.MustHaveTag(SplitRecord{}, "Stage")
	SplitRecordCreatedAtKey = bsonutil.MustHaveTag(SplitRecord{}, "CreatedAt")
)

// NewSplitRecord builds the journal entry for replacing original with
// replacements. ownerSeq is the owner's counter before the split.
func NewSplitRecord(original *LogChunk, replacements []LogChunk, ownerSeq, maxSize int) *SplitRecord {
	ids := make([]primitive.ObjectID, 0, len(replacements))
	for _, r := range replacements {
		ids = append(ids, r.ID)
	}

	return &SplitRecord{
		ID:             original.ID,
		BuildID:        original.BuildID,
		TestID:         original.TestID,
		Seq:            original.Seq,
		Inc:            len(replacements) - 1,
		OwnerSeq:       ownerSeq,
		MaxSize:        maxSize,
		ReplacementIDs: ids,
		Stage:          SplitStagePlanned,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (r *SplitRecord) Scope() Scope {
	return Scope{BuildID: r.BuildID, TestID: r.TestID}
}

// Renumbering returns the renumbering the recorded split applies.
func (r *SplitRecord) Renumbering() Renumbering {
	return Renumbering{Scope: r.Scope(), AfterSeq: r.Seq, Inc: r.Inc}
}
