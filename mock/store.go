package mock

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/evergreen-ci/logsplit/db"
	"github.com/evergreen-ci/logsplit/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Operation names a store method for fault injection.
type Operation string

const (
	OpScan           Operation = "scan"
	OpShift          Operation = "shift"
	OpIncrementOwner Operation = "increment-owner"
	OpInsert         Operation = "insert"
	OpDelete         Operation = "delete"
	OpRecordSplit    Operation = "record-split"
	OpSetSplitStage  Operation = "set-split-stage"
	OpRemoveSplit    Operation = "remove-split"
)

// Store is an in-memory store holding builds, tests, chunks and a split
// journal. It is safe for concurrent use.
type Store struct {
	// Faults maps an operation to the error its next call returns. A
	// fault fires once and is then removed.
	Faults map[Operation]error
	// PartialShift, when positive, makes the next failing shift move only
	// that many chunks before returning its fault.
	PartialShift int
	// Writes counts every write made to builds, tests or chunks.
	Writes int

	builds  map[primitive.ObjectID]model.Build
	tests   map[primitive.ObjectID]model.Test
	chunks  map[primitive.ObjectID]model.LogChunk
	journal map[primitive.ObjectID]model.SplitRecord

	mu sync.Mutex
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		Faults:  map[Operation]error{},
		builds:  map[primitive.ObjectID]model.Build{},
		tests:   map[primitive.ObjectID]model.Test{},
		chunks:  map[primitive.ObjectID]model.LogChunk{},
		journal: map[primitive.ObjectID]model.SplitRecord{},
	}
}

// Fail makes the next call of op return err.
func (s *Store) Fail(op Operation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Faults[op] = err
}

func (s *Store) fault(op Operation) error {
	err, ok := s.Faults[op]
	if !ok {
		return nil
	}
	delete(s.Faults, op)

	return err
}

// PutBuild stores a build as is.
func (s *Store) PutBuild(b model.Build) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.builds[b.ID] = b
}

// PutTest stores a test as is.
func (s *Store) PutTest(t model.Test) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tests[t.ID] = t
}

// PutChunk stores a chunk as is, without touching any counter.
func (s *Store) PutChunk(c model.LogChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks[c.ID] = copyChunk(c)
}

// Chunks returns the chunks of a scope ordered by seq.
func (s *Store) Chunks(scope model.Scope) []model.LogChunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.LogChunk{}
	for _, c := range s.chunks {
		if c.Scope().Equal(scope) {
			out = append(out, copyChunk(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return lessID(out[i].ID, out[j].ID)
	})

	return out
}

// AllChunks returns every chunk ordered by ID.
func (s *Store) AllChunks() []model.LogChunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.LogChunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, copyChunk(c))
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })

	return out
}

func (s *Store) ScanChunks(ctx context.Context) (model.ChunkIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(OpScan); err != nil {
		return nil, err
	}

	ids := make([]primitive.ObjectID, 0, len(s.chunks))
	for id := range s.chunks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })

	return &chunkIterator{store: s, ids: ids}, nil
}

func (s *Store) FindChunk(_ context.Context, id primitive.ObjectID) (*model.LogChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chunks[id]
	if !ok {
		return nil, errors.Wrapf(db.ErrNotFound, "finding chunk '%s'", id.Hex())
	}
	out := copyChunk(c)

	return &out, nil
}

func (s *Store) FindBuild(_ context.Context, id primitive.ObjectID) (*model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.builds[id]
	if !ok {
		return nil, errors.Wrapf(db.ErrNotFound, "finding build '%s'", id.Hex())
	}

	return &b, nil
}

func (s *Store) FindTest(_ context.Context, id primitive.ObjectID) (*model.Test, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tests[id]
	if !ok {
		return nil, errors.Wrapf(db.ErrNotFound, "finding test '%s'", id.Hex())
	}

	return &t, nil
}

func (s *Store) ShiftChunks(_ context.Context, scope model.Scope, afterSeq, inc int, marker primitive.ObjectID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	faultErr := s.fault(OpShift)
	if faultErr != nil && s.PartialShift <= 0 {
		return 0, faultErr
	}

	plan := model.Renumbering{Scope: scope, AfterSeq: afterSeq, Inc: inc}
	ids := []primitive.ObjectID{}
	for id, c := range s.chunks {
		if !c.Scope().Equal(plan.Scope) || plan.Shift(c.Seq) == c.Seq {
			continue
		}
		if c.SplitMarker != nil && *c.SplitMarker == marker {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })

	shifted := 0
	for _, id := range ids {
		if faultErr != nil && shifted == s.PartialShift {
			s.PartialShift = 0
			return shifted, faultErr
		}
		c := s.chunks[id]
		c.Seq = plan.Shift(c.Seq)
		m := marker
		c.SplitMarker = &m
		s.chunks[id] = c
		shifted++
		s.Writes++
	}
	if faultErr != nil {
		s.PartialShift = 0
		return shifted, faultErr
	}

	return shifted, nil
}

func (s *Store) IncrementOwnerSeq(_ context.Context, scope model.Scope, expected, inc int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(OpIncrementOwner); err != nil {
		return false, err
	}

	if scope.HasTest() {
		t, ok := s.tests[*scope.TestID]
		if !ok || t.Seq != expected {
			return false, nil
		}
		t.Seq += inc
		s.tests[t.ID] = t
	} else {
		b, ok := s.builds[scope.BuildID]
		if !ok || b.Seq != expected {
			return false, nil
		}
		b.Seq += inc
		s.builds[b.ID] = b
	}
	s.Writes++

	return true, nil
}

func (s *Store) InsertChunks(_ context.Context, chunks []model.LogChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(OpInsert); err != nil {
		return err
	}

	for _, c := range chunks {
		if _, ok := s.chunks[c.ID]; ok {
			continue
		}
		s.chunks[c.ID] = copyChunk(c)
		s.Writes++
	}

	return nil
}

func (s *Store) DeleteChunk(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(OpDelete); err != nil {
		return err
	}

	if _, ok := s.chunks[id]; ok {
		delete(s.chunks, id)
		s.Writes++
	}

	return nil
}

func (s *Store) RecordSplit(_ context.Context, record *model.SplitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(OpRecordSplit); err != nil {
		return err
	}
	s.journal[record.ID] = copyRecord(*record)

	return nil
}

func (s *Store) SetSplitStage(_ context.Context, id primitive.ObjectID, stage model.SplitStage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(OpSetSplitStage); err != nil {
		return err
	}
	if r, ok := s.journal[id]; ok {
		r.Stage = stage
		s.journal[id] = r
	}

	return nil
}

func (s *Store) FindPendingSplits(_ context.Context) ([]model.SplitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.SplitRecord, 0, len(s.journal))
	for _, r := range s.journal {
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return lessID(out[i].ID, out[j].ID)
	})

	return out, nil
}

func (s *Store) RemoveSplit(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(OpRemoveSplit); err != nil {
		return err
	}
	delete(s.journal, id)

	return nil
}

// WithTransaction runs fn against the store and restores the previous
// contents of the store if fn fails.
func (s *Store) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	s.mu.Lock()
	snapshot := s.snapshot()
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.restore(snapshot)
		s.mu.Unlock()
		return err
	}

	return nil
}

type storeState struct {
	builds  map[primitive.ObjectID]model.Build
	tests   map[primitive.ObjectID]model.Test
	chunks  map[primitive.ObjectID]model.LogChunk
	journal map[primitive.ObjectID]model.SplitRecord
	writes  int
}

func (s *Store) snapshot() storeState {
	state := storeState{
		builds:  make(map[primitive.ObjectID]model.Build, len(s.builds)),
		tests:   make(map[primitive.ObjectID]model.Test, len(s.tests)),
		chunks:  make(map[primitive.ObjectID]model.LogChunk, len(s.chunks)),
		journal: make(map[primitive.ObjectID]model.SplitRecord, len(s.journal)),
		writes:  s.Writes,
	}
	for k, v := range s.builds {
		state.builds[k] = v
	}
	for k, v := range s.tests {
		state.tests[k] = v
	}
	for k, v := range s.chunks {
		state.chunks[k] = copyChunk(v)
	}
	for k, v := range s.journal {
		state.journal[k] = copyRecord(v)
	}

	return state
}

func (s *Store) restore(state storeState) {
	s.builds = state.builds
	s.tests = state.tests
	s.chunks = state.chunks
	s.journal = state.journal
	s.Writes = state.writes
}

type chunkIterator struct {
	store *Store
	ids   []primitive.ObjectID
	pos   int
	item  *model.LogChunk
	err   error
}

func (it *chunkIterator) Next(ctx context.Context) bool {
	for it.pos < len(it.ids) {
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}
		id := it.ids[it.pos]
		it.pos++

		it.store.mu.Lock()
		c, ok := it.store.chunks[id]
		it.store.mu.Unlock()
		if !ok {
			continue
		}

		out := copyChunk(c)
		it.item = &out
		return true
	}

	return false
}

func (it *chunkIterator) Item() *model.LogChunk { return it.item }

func (it *chunkIterator) Err() error { return it.err }

func (it *chunkIterator) Close(context.Context) error { return nil }

func lessID(a, b primitive.ObjectID) bool { return bytes.Compare(a[:], b[:]) < 0 }

func copyChunk(c model.LogChunk) model.LogChunk {
	c.Lines = append([]model.Line(nil), c.Lines...)
	if c.TestID != nil {
		id := *c.TestID
		c.TestID = &id
	}
	if c.SplitMarker != nil {
		m := *c.SplitMarker
		c.SplitMarker = &m
	}
	if c.Started != nil {
		ts := *c.Started
		c.Started = &ts
	}

	return c
}

func copyRecord(r model.SplitRecord) model.SplitRecord {
	r.ReplacementIDs = append([]primitive.ObjectID(nil), r.ReplacementIDs...)
	if r.TestID != nil {
		id := *r.TestID
		r.TestID = &id
	}

	return r
}
