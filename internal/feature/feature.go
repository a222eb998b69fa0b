// Package feature implements the three compact bucketized feature
// encodings from spec.md §3/§4.4: Dense, Sparse v1, and the sharded
// Sparse v2 used during active tree growth.
package feature

import "github.com/tealtree/tealtree/internal/bucketize"

// Feature is the minimal read interface the histogram engine and split
// selector need, independent of encoding.
type Feature interface {
	// Name returns the feature's column name.
	Name() string
	// Table returns the feature's bucket table.
	Table() *bucketize.Table
	// Bucket returns the bucket code for document doc. For SparseV2, only
	// valid before that feature's first Split in the current tree; callers
	// operating on a partially-grown tree must use IterateLeaf instead.
	Bucket(doc uint32) uint64
	// NumDocs returns the total document count the feature was built over.
	NumDocs() int
	// IterateLeaf visits every position in docIDs — a leaf's own global
	// doc-id list, in ascending order — whose bucket differs from
	// Table().DefaultBucket, calling visit(relPos, code) once per such
	// position. leafID identifies the owning tree node; Dense and SparseV1
	// ignore it, while SparseV2 uses it to locate that leaf's own shard
	// instead of rescanning the whole column (spec.md §4.4/§4.5).
	IterateLeaf(leafID uint32, docIDs []uint32, visit func(relPos int, code uint64))
}

// Sharded is implemented by encodings that partition their explicit
// stream into one contiguous shard per live leaf during active tree
// growth (currently SparseV2 only; spec.md §4.4). internal/gbtree's
// GrowTree calls Split on every Sharded feature each time it commits a
// node's split, and FinalizeTree once at the end of each tree.
type Sharded interface {
	Feature

	// Split partitions leafID's shard into two child shards. nLeafDocs is
	// the number of documents the leaf holds; direction(relPos) reports
	// whether the document at relative position relPos (0-based, in the
	// leaf's own doc-id list order) goes right.
	Split(leafID uint32, nLeafDocs int, direction func(relPos int) bool, leftLeafID, rightLeafID uint32) error

	// FinalizeTree merges every live leaf's shard back into a single
	// stream ordered by original global doc id and resets the shard table
	// to one root shard, per spec.md §4.4's end-of-tree consolidation.
	// leafDocIDs maps every live leaf id to its own global doc-id list.
	FinalizeTree(leafDocIDs map[uint32][]uint32, rootLeafID uint32, debugCheck bool) error
}

// Bits returns the minimal bit width needed to hold K distinct bucket
// codes (K-1 is the largest code value), rounded up to one of the five
// supported compact-vector widths.
func Bits(numBuckets int) uint {
	maxCode := numBuckets - 1
	switch {
	case maxCode < 1<<1:
		return 1
	case maxCode < 1<<2:
		return 2
	case maxCode < 1<<4:
		return 4
	case maxCode < 1<<8:
		return 8
	default:
		return 16
	}
}
