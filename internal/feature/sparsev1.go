package feature

import (
	"sort"

	"github.com/tealtree/tealtree/internal/bitvec"
	"github.com/tealtree/tealtree/internal/bucketize"
	"github.com/tealtree/tealtree/internal/varint"
)

// SparseV1 is the flat sparse encoding from spec.md §3: a default bucket
// value plus an explicit (value, doc-id-delta) stream for every document
// whose bucket differs from the default. Used for static (post-training,
// or small-ensemble) persistence; during active tree growth the sharded
// SparseV2 encoding is used instead so splits don't rescan the whole
// stream.
type SparseV1 struct {
	name         string
	table        *bucketize.Table
	numDocs      int
	defaultValue uint64
	values       *bitvec.Vector // one code per explicit doc, in doc-id order
	offsets      []byte         // varint deltas between explicit doc ids
	numExplicit  int
}

// NewSparseV1 builds a SparseV1 feature from per-document bucket codes.
func NewSparseV1(name string, table *bucketize.Table, bucketCodes []uint64) *SparseV1 {
	defaultValue := uint64(table.DefaultBucket)

	var explicitDocs []uint32
	var explicitVals []uint64
	for doc, code := range bucketCodes {
		if code != defaultValue {
			explicitDocs = append(explicitDocs, uint32(doc))
			explicitVals = append(explicitVals, code)
		}
	}
	sort.Slice(explicitDocs, func(i, j int) bool { return explicitDocs[i] < explicitDocs[j] })

	bits := Bits(table.NumBuckets())
	values := bitvec.New(bits, len(explicitVals))
	vw := bitvec.NewWriter(values, 0)
	ow := varint.NewInitialWriter(nil)
	prev := uint32(0)
	for i, doc := range explicitDocs {
		vw.PushBack(explicitVals[i])
		delta := doc - prev
		if i == 0 {
			delta = doc
		}
		ow.Write(delta)
		prev = doc
	}
	vw.Flush()

	return &SparseV1{
		name:         name,
		table:        table,
		numDocs:      len(bucketCodes),
		defaultValue: defaultValue,
		values:       values,
		offsets:      ow.Bytes(),
		numExplicit:  len(explicitDocs),
	}
}

func (s *SparseV1) Name() string            { return s.name }
func (s *SparseV1) Table() *bucketize.Table { return s.table }
func (s *SparseV1) NumDocs() int            { return s.numDocs }

// Bucket returns the bucket code for doc, scanning the explicit stream
// forward from the start. Callers that need this repeatedly for many docs
// should prefer an Iterate pass instead (O(explicit) total rather than
// O(explicit) per call).
func (s *SparseV1) Bucket(doc uint32) uint64 {
	result := s.defaultValue
	s.Iterate(func(d uint32, code uint64) bool {
		if d == doc {
			result = code
			return false
		}
		return d < doc
	})
	return result
}

// Iterate walks the explicit (doc, bucket) stream in ascending doc-id
// order, calling visit for each entry. visit returns false to stop early.
func (s *SparseV1) Iterate(visit func(doc uint32, code uint64) bool) {
	if s.numExplicit == 0 {
		return
	}
	it := varint.NewIterator(s.offsets, 0)
	vit := bitvec.NewIterator(s.values, 0)
	var doc uint32
	for i := 0; i < s.numExplicit; i++ {
		doc += it.Next()
		code := vit.Next()
		if !visit(doc, code) {
			return
		}
	}
}

// IterateLeaf merge-walks the explicit stream against docIDs (both in
// ascending doc-id order) instead of calling Bucket once per document, so
// the whole leaf costs O(explicit docs up to the leaf's last doc) rather
// than O(explicit) per call (leafID is unused: SparseV1 has no shards).
func (s *SparseV1) IterateLeaf(_ uint32, docIDs []uint32, visit func(relPos int, code uint64)) {
	if len(docIDs) == 0 {
		return
	}
	maxDoc := docIDs[len(docIDs)-1]
	relPos := 0
	s.Iterate(func(doc uint32, code uint64) bool {
		if doc > maxDoc {
			return false
		}
		for relPos < len(docIDs) && docIDs[relPos] < doc {
			relPos++
		}
		if relPos < len(docIDs) && docIDs[relPos] == doc {
			visit(relPos, code)
			relPos++
		}
		return true
	})
}

// DefaultValue returns the implicit bucket code for documents not present
// in the explicit stream.
func (s *SparseV1) DefaultValue() uint64 { return s.defaultValue }

// NumExplicit reports the number of documents stored explicitly.
func (s *SparseV1) NumExplicit() int { return s.numExplicit }
