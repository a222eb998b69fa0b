package feature

import (
	"github.com/tealtree/tealtree/internal/bitvec"
	"github.com/tealtree/tealtree/internal/bucketize"
)

// Dense stores one bucket code per document in a compact bit vector, per
// spec.md §3's Dense feature definition. Used when a feature's sparsity
// score is below the configured sparsity threshold.
type Dense struct {
	name  string
	table *bucketize.Table
	codes *bitvec.Vector
}

// NewDense builds a Dense feature from per-document raw values, already
// bucketized via table.
func NewDense(name string, table *bucketize.Table, values []float64) *Dense {
	bits := Bits(table.NumBuckets())
	codes := bitvec.New(bits, len(values))
	w := bitvec.NewWriter(codes, 0)
	for _, v := range values {
		w.PushBack(uint64(table.BucketOf(v)))
	}
	w.Flush()
	return &Dense{name: name, table: table, codes: codes}
}

func (d *Dense) Name() string             { return d.name }
func (d *Dense) Table() *bucketize.Table  { return d.table }
func (d *Dense) NumDocs() int             { return d.codes.Len() }
func (d *Dense) Bucket(doc uint32) uint64 { return d.codes.Get(int(doc)) }

// Set overwrites the bucket code for a document (used only at build time,
// e.g. when ingest streams rows incrementally).
func (d *Dense) Set(doc uint32, bucket uint64) { d.codes.Set(int(doc), bucket) }

// IterateLeaf visits docIDs in order, reporting only the positions whose
// bucket differs from the default (leafID is unused: Dense has no shard
// concept, random access is already O(1)).
func (d *Dense) IterateLeaf(_ uint32, docIDs []uint32, visit func(relPos int, code uint64)) {
	def := uint64(d.table.DefaultBucket)
	for i, doc := range docIDs {
		if c := d.Bucket(doc); c != def {
			visit(i, c)
		}
	}
}
