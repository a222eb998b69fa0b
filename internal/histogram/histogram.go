// Package histogram implements spec.md §4.5's per-(leaf,feature) gradient
// histogram and the parent-to-sibling subtraction optimization.
package histogram

import (
	"github.com/tealtree/tealtree/internal/document"
	"github.com/tealtree/tealtree/internal/feature"
)

// Histogram holds one (gradient_sum, weight_sum) pair per bucket for a
// single (leaf, feature) combination. Weight is document count when
// NewtonStep is false, sum of hessians when true (spec.md §4.5).
type Histogram struct {
	GradSum []float64
	Weight  []float64
}

// New allocates a zeroed Histogram with numBuckets slots.
func New(numBuckets int) *Histogram {
	return &Histogram{
		GradSum: make([]float64, numBuckets),
		Weight:  make([]float64, numBuckets),
	}
}

// NumBuckets reports the histogram's bucket count.
func (h *Histogram) NumBuckets() int { return len(h.GradSum) }

// Add accumulates one document's (gradient, weight) into bucket b.
func (h *Histogram) Add(b int, grad, weight float64) {
	h.GradSum[b] += grad
	h.Weight[b] += weight
}

// Subtract returns parent - child, bucket-wise, clamping weight to >= 0 to
// absorb floating-point drift (spec.md §4.5: "clamped to >=0 on weight
// for Newton step").
func Subtract(parent, child *Histogram) *Histogram {
	out := New(parent.NumBuckets())
	for b := range parent.GradSum {
		out.GradSum[b] = parent.GradSum[b] - child.GradSum[b]
		w := parent.Weight[b] - child.Weight[b]
		if w < 0 {
			w = 0
		}
		out.Weight[b] = w
	}
	return out
}

// Compute accumulates a histogram for a Dense/SparseV1/SparseV2 feature
// over one leaf's doc-id list, reading each document's current Gradient
// (and Hessian, when newtonStep is set) from docs. leafID identifies the
// owning tree node, used by sharded encodings (SparseV2) to read that
// leaf's own shard directly via IterateLeaf instead of rescanning the
// whole column (spec.md §4.4/§4.5) — every document starts in the
// feature's default bucket, then IterateLeaf's (relPos, code) callbacks
// move the minority of documents whose code differs from the default.
func Compute(feat feature.Feature, leafID uint32, docIDs []uint32, docs *document.Set, newtonStep bool) *Histogram {
	h := New(feat.Table().NumBuckets())
	defaultBucket := feat.Table().DefaultBucket

	weightOf := func(relPos int) (grad, weight float64) {
		doc := docs.At(int(docIDs[relPos]))
		weight = 1.0
		if newtonStep {
			weight = float64(doc.Hessian)
		}
		return float64(doc.Gradient), weight
	}

	for relPos := range docIDs {
		grad, weight := weightOf(relPos)
		h.Add(defaultBucket, grad, weight)
	}
	feat.IterateLeaf(leafID, docIDs, func(relPos int, code uint64) {
		grad, weight := weightOf(relPos)
		h.GradSum[defaultBucket] -= grad
		h.Weight[defaultBucket] -= weight
		h.Add(int(code), grad, weight)
	})
	return h
}

// SumGradientWeight returns the total gradient and weight across every
// bucket, used by the split selector and by the trainer to compute a
// node's sum_gradient/sum_hessian without a second pass over documents.
func (h *Histogram) SumGradientWeight() (grad, weight float64) {
	for i := range h.GradSum {
		grad += h.GradSum[i]
		weight += h.Weight[i]
	}
	return
}
