package migrations

import (
	"github.com/dustin/go-humanize"
	"github.com/evergreen-ci/logsplit/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Observer receives the driver's progress and diagnostic events. Observers
// must not modify the chunks they are given.
type Observer interface {
	// Progress is called every progress interval with the number of chunks
	// scanned so far and the ID of the chunk about to be checked.
	Progress(scanned int, next primitive.ObjectID)
	// OversizedChunk is called before an oversized chunk is split.
	OversizedChunk(chunk *model.LogChunk, size int)
	ChunkSplit(original *model.LogChunk, replacements []model.LogChunk)
	// DegenerateChunk is called for an oversized chunk that cannot be
	// split because it holds at most one line. The chunk is left as is.
	DegenerateChunk(chunk *model.LogChunk, size int)
	SplitRecovered(record *model.SplitRecord)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) Progress(int, primitive.ObjectID)             {}
func (NopObserver) OversizedChunk(*model.LogChunk, int)          {}
func (NopObserver) ChunkSplit(*model.LogChunk, []model.LogChunk) {}
func (NopObserver) DegenerateChunk(*model.LogChunk, int)         {}
func (NopObserver) SplitRecovered(*model.SplitRecord)            {}

type loggingObserver struct{}

// NewLoggingObserver returns an observer that logs every event through grip.
func NewLoggingObserver() Observer { return loggingObserver{} }

func (loggingObserver) Progress(scanned int, next primitive.ObjectID) {
	grip.Info(message.Fields{
		"message": "checked logs",
		"scanned": scanned,
		"next_id": next.Hex(),
	})
}

func (loggingObserver) OversizedChunk(chunk *model.LogChunk, size int) {
	grip.Notice(chunkFields(chunk, message.Fields{
		"message": "breaking up log",
		"size":    humanize.IBytes(uint64(size)),
		"lines":   len(chunk.Lines),
	}))
}

func (loggingObserver) ChunkSplit(original *model.LogChunk, replacements []model.LogChunk) {
	ids := make([]string, 0, len(replacements))
	for _, r := range replacements {
		ids = append(ids, r.ID.Hex())
	}

	plan := model.PlanRenumbering(original, replacements)
	first, last := plan.ReplacementRange()
	grip.Info(chunkFields(original, message.Fields{
		"message":      "broke up log",
		"replacements": ids,
		"inc":          plan.Inc,
		"first_seq":    first,
		"last_seq":     last,
	}))
}

func (loggingObserver) DegenerateChunk(chunk *model.LogChunk, size int) {
	grip.Warning(chunkFields(chunk, message.Fields{
		"message": "log is too large but cannot be broken up",
		"size":    humanize.IBytes(uint64(size)),
		"lines":   len(chunk.Lines),
	}))
}

func (loggingObserver) SplitRecovered(record *model.SplitRecord) {
	msg := message.Fields{
		"message":  "resumed interrupted split",
		"id":       record.ID.Hex(),
		"build_id": record.BuildID.Hex(),
		"stage":    record.Stage,
		"inc":      record.Inc,
	}
	if record.TestID != nil {
		msg["test_id"] = record.TestID.Hex()
	}
	grip.Notice(msg)
}

func chunkFields(chunk *model.LogChunk, fields message.Fields) message.Fields {
	fields["id"] = chunk.ID.Hex()
	fields["build_id"] = chunk.BuildID.Hex()
	fields["seq"] = chunk.Seq
	if chunk.TestID != nil {
		fields["test_id"] = chunk.TestID.Hex()
	}

	return fields
}
