package model

// Renumbering describes how a split changes the seq values of its scope.
// Chunks positioned after AfterSeq move up by Inc, and the owner's counter
// grows by Inc.
type Renumbering struct {
	Scope    Scope
	AfterSeq int
	Inc      int
}

// PlanRenumbering computes the renumbering required to replace original with
// replacements.
func PlanRenumbering(original *LogChunk, replacements []LogChunk) Renumbering {
	return Renumbering{
		Scope:    original.Scope(),
		AfterSeq: original.Seq,
		Inc:      len(replacements) - 1,
	}
}

// IsNoop reports whether the split leaves the chunk count unchanged.
func (r Renumbering) IsNoop() bool { return r.Inc <= 0 }

// Shift returns the seq a sibling at seq moves to.
func (r Renumbering) Shift(seq int) int {
	if seq > r.AfterSeq {
		return seq + r.Inc
	}

	return seq
}

// ReplacementRange returns the first and last seq the replacements occupy.
func (r Renumbering) ReplacementRange() (int, int) {
	return r.AfterSeq, r.AfterSeq + r.Inc
}
