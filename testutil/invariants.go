package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/evergreen-ci/logsplit/model"
	"github.com/pkg/errors"
)

// InvariantViolation describes a stored state that breaks one of the
// guarantees of a split.
type InvariantViolation struct {
	Invariant string
	Subject   string
	Observed  any
	Expected  any
}

func (v *InvariantViolation) Error() string {
	return fmt.Sprintf("%s: %s is %v, expected %v", v.Invariant, v.Subject, v.Observed, v.Expected)
}

// IsInvariantViolation reports whether err is, or wraps, an
// InvariantViolation.
func IsInvariantViolation(err error) bool {
	_, ok := errors.Cause(err).(*InvariantViolation)
	return ok
}

func violation(invariant, subject string, observed, expected any) error {
	return errors.WithStack(&InvariantViolation{
		Invariant: invariant,
		Subject:   subject,
		Observed:  observed,
		Expected:  expected,
	})
}

// CheckScope verifies the chunks of one scope against its owner counter
// and the lines the scope held before any split:
//   - seq values are exactly 1..n and the owner counter is n
//   - start times never decrease along seq
//   - the concatenated lines equal the original lines, timestamps included,
//     in order
//   - no chunk with more than one line exceeds maxSize
func CheckScope(ctx context.Context, fs FixtureStore, scope model.Scope, lines []model.Line, maxSize int) error {
	chunks, err := fs.Chunks(ctx, scope)
	if err != nil {
		return errors.Wrapf(err, "reading chunks of %s", scope)
	}

	counter, err := ownerSeq(ctx, fs, scope)
	if err != nil {
		return err
	}
	if counter != len(chunks) {
		return violation("counter consistency", fmt.Sprintf("counter of %s", scope), counter, len(chunks))
	}

	var stored []model.Line
	for i, chunk := range chunks {
		subject := fmt.Sprintf("chunk '%s' of %s", chunk.ID.Hex(), scope)
		if chunk.Seq != i+1 {
			return violation("sequence contiguity", subject+" seq", chunk.Seq, i+1)
		}
		if prev := chunks[max(i-1, 0)].Started; chunk.Started != nil && prev != nil && chunk.Started.Before(*prev) {
			return violation("chronological order", subject+" start time", *chunk.Started, fmt.Sprintf("not before %s", *prev))
		}
		if len(chunk.Lines) > 1 && chunk.Oversized(maxSize) {
			return violation("size bound", subject+" size", chunk.Size(), fmt.Sprintf("at most %d", maxSize))
		}
		stored = append(stored, chunk.Lines...)
	}

	if len(stored) != len(lines) {
		return violation("line order", fmt.Sprintf("line count of %s", scope), len(stored), len(lines))
	}
	for i := range lines {
		if stored[i].Data != lines[i].Data || !stored[i].Time.Equal(lines[i].Time) {
			return violation("line order", fmt.Sprintf("line %d of %s", i, scope), describeLine(stored[i]), describeLine(lines[i]))
		}
	}

	return nil
}

func ownerSeq(ctx context.Context, fs FixtureStore, scope model.Scope) (int, error) {
	if scope.TestID != nil {
		test, err := fs.Test(ctx, *scope.TestID)
		if err != nil {
			return 0, err
		}
		return test.Seq, nil
	}

	build, err := fs.Build(ctx, scope.BuildID)
	if err != nil {
		return 0, err
	}

	return build.Seq, nil
}

func describeTime(ts *time.Time) string {
	if ts == nil {
		return "null"
	}

	return ts.String()
}

// describeLine keeps multi-megabyte payloads out of error messages.
func describeLine(line model.Line) string {
	ts := line.Time.UTC().Format(time.RFC3339Nano)
	if len(line.Data) <= 16 {
		return fmt.Sprintf("[%s, %q]", ts, line.Data)
	}

	return fmt.Sprintf("[%s, %q... (%d bytes)]", ts, line.Data[:16], len(line.Data))
}

// ScopeSnapshot is the stored state of one scope at a point in time.
type ScopeSnapshot struct {
	Scope    model.Scope
	OwnerSeq int
	Chunks   []model.LogChunk
}

// SnapshotScope reads the owner counter and the chunks of scope.
func SnapshotScope(ctx context.Context, fs FixtureStore, scope model.Scope) (*ScopeSnapshot, error) {
	counter, err := ownerSeq(ctx, fs, scope)
	if err != nil {
		return nil, err
	}
	chunks, err := fs.Chunks(ctx, scope)
	if err != nil {
		return nil, errors.Wrapf(err, "reading chunks of %s", scope)
	}

	return &ScopeSnapshot{Scope: scope, OwnerSeq: counter, Chunks: chunks}, nil
}

// CheckUnchanged verifies that the scope still holds exactly the state
// captured in the snapshot.
func (s *ScopeSnapshot) CheckUnchanged(ctx context.Context, fs FixtureStore) error {
	current, err := SnapshotScope(ctx, fs, s.Scope)
	if err != nil {
		return err
	}

	if current.OwnerSeq != s.OwnerSeq {
		return violation("idempotence", fmt.Sprintf("counter of %s", s.Scope), current.OwnerSeq, s.OwnerSeq)
	}
	if len(current.Chunks) != len(s.Chunks) {
		return violation("idempotence", fmt.Sprintf("chunk count of %s", s.Scope), len(current.Chunks), len(s.Chunks))
	}
	for i, chunk := range current.Chunks {
		before := s.Chunks[i]
		subject := fmt.Sprintf("chunk %d of %s", i+1, s.Scope)
		if chunk.ID != before.ID || chunk.Seq != before.Seq {
			return violation("idempotence", subject, fmt.Sprintf("%s at seq %d", chunk.ID.Hex(), chunk.Seq), fmt.Sprintf("%s at seq %d", before.ID.Hex(), before.Seq))
		}
		if describeTime(chunk.Started) != describeTime(before.Started) {
			return violation("idempotence", subject+" start time", describeTime(chunk.Started), describeTime(before.Started))
		}
		if len(chunk.Lines) != len(before.Lines) {
			return violation("idempotence", subject+" line count", len(chunk.Lines), len(before.Lines))
		}
		for n := range chunk.Lines {
			if chunk.Lines[n].Data != before.Lines[n].Data || !chunk.Lines[n].Time.Equal(before.Lines[n].Time) {
				return violation("idempotence", fmt.Sprintf("%s line %d", subject, n), describeLine(chunk.Lines[n]), describeLine(before.Lines[n]))
			}
		}
	}

	return nil
}
