// Package document defines the per-document record TealTree carries
// through training: spec.md §3's Document type.
package document

// Document holds one training (or evaluation) row's identity, label, and
// mutable trainer state. Created once at ingest and never reallocated;
// Score/Gradient/Hessian are the only fields mutated after ingest, and
// only by the driver thread or a single query-scoped worker (see
// spec.md §5's shared-resource policy).
type Document struct {
	DocID       uint32
	QueryID     uint32
	TargetScore float32

	Score    float32 // running prediction, updated after each leaf writeback
	Gradient float32
	Hessian  float32
}

// Reset zeroes the mutable trainer state, used at the start of each tree
// before the cost function recomputes gradients for the new round.
func (d *Document) Reset() {
	d.Gradient = 0
	d.Hessian = 0
}

// Set is the append-only per-run document table.
type Set struct {
	docs []Document
}

// NewSet preallocates a Set for n documents.
func NewSet(n int) *Set {
	return &Set{docs: make([]Document, 0, n)}
}

// Append adds a new document, assigning it the next sequential DocID.
func (s *Set) Append(queryID uint32, targetScore float32) *Document {
	d := Document{
		DocID:       uint32(len(s.docs)),
		QueryID:     queryID,
		TargetScore: targetScore,
	}
	s.docs = append(s.docs, d)
	return &s.docs[len(s.docs)-1]
}

// Len reports the number of documents.
func (s *Set) Len() int { return len(s.docs) }

// At returns a pointer to the document at index i (== its DocID).
func (s *Set) At(i int) *Document { return &s.docs[i] }

// All returns the full backing slice for read-heavy iteration (histogram
// workers read concurrently; only the driver and query-scoped gradient
// workers write).
func (s *Set) All() []Document { return s.docs }

// QueryGroups returns, for query-based cost functions (LambdaRank), the
// contiguous index ranges sharing a QueryID. Documents are assumed to be
// grouped by QueryID already; ingest does not check this, and rows of one
// query that are not contiguous yield one range per contiguous run.
func (s *Set) QueryGroups() []Range {
	if len(s.docs) == 0 {
		return nil
	}
	var groups []Range
	start := 0
	cur := s.docs[0].QueryID
	for i := 1; i < len(s.docs); i++ {
		if s.docs[i].QueryID != cur {
			groups = append(groups, Range{Start: start, End: i})
			start = i
			cur = s.docs[i].QueryID
		}
	}
	groups = append(groups, Range{Start: start, End: len(s.docs)})
	return groups
}

// Range is a half-open [Start, End) index range into a Set.
type Range struct {
	Start, End int
}

// Len reports the number of documents in the range.
func (r Range) Len() int { return r.End - r.Start }
