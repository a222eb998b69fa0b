// Package split implements spec.md §4.6's best-split search over feature
// histograms and the max-heap of open leaf candidates that drives tree
// growth.
package split

import (
	"container/heap"
	"math"

	"github.com/RoaringBitmap/roaring"

	"github.com/tealtree/tealtree/internal/histogram"
)

// SpreadKind selects the split-score formula (spec.md §4.6).
type SpreadKind int

const (
	Linear SpreadKind = iota
	Quadratic
)

// Candidate is one feature's best split point for a given node.
type Candidate struct {
	NodeID      uint32
	FeatureIdx  int
	BucketIndex int // split separates {0..BucketIndex-1} from {BucketIndex..K-1}
	Score       float64
	LeftWeight  float64
	RightWeight float64
	LeftGrad    float64
	RightGrad   float64
}

// BestForFeature scans a single feature's histogram left-to-right and
// returns its best split candidate, or ok=false if no split point cleared
// minWeight.
func BestForFeature(nodeID uint32, featureIdx int, h *histogram.Histogram, kind SpreadKind, minWeight, lambda float64) (Candidate, bool) {
	k := h.NumBuckets()
	if k < 2 {
		return Candidate{}, false
	}

	totalGrad, totalWeight := h.SumGradientWeight()

	var leftGrad, leftWeight float64
	best := Candidate{NodeID: nodeID, FeatureIdx: featureIdx, Score: math.Inf(-1)}
	found := false

	for i := 1; i < k; i++ {
		leftGrad += h.GradSum[i-1]
		leftWeight += h.Weight[i-1]
		rightGrad := totalGrad - leftGrad
		rightWeight := totalWeight - leftWeight

		if leftWeight < minWeight || rightWeight < minWeight {
			continue
		}

		lam := 0.0
		if kind == Quadratic {
			lam = lambda
		}

		var score float64
		switch kind {
		case Linear:
			score = math.Abs(leftGrad/(leftWeight+lam) - rightGrad/(rightWeight+lam))
		case Quadratic:
			score = leftGrad*leftGrad/(leftWeight+lam) + rightGrad*rightGrad/(rightWeight+lam) - totalGrad*totalGrad/totalWeight
		}

		if !found || score > best.Score {
			found = true
			best = Candidate{
				NodeID: nodeID, FeatureIdx: featureIdx, BucketIndex: i, Score: score,
				LeftWeight: leftWeight, RightWeight: rightWeight,
				LeftGrad: leftGrad, RightGrad: rightGrad,
			}
		}
	}
	return best, found
}

// BestOverFeatures returns the highest-scoring candidate across every
// histogram, ties broken by feature order (spec.md §4.6: "Ties broken by
// feature order").
func BestOverFeatures(nodeID uint32, histograms []*histogram.Histogram, kind SpreadKind, minWeight, lambda float64) (Candidate, bool) {
	var best Candidate
	found := false
	for idx, h := range histograms {
		if h == nil {
			continue
		}
		c, ok := BestForFeature(nodeID, idx, h, kind, minWeight, lambda)
		if ok && (!found || c.Score > best.Score) {
			best, found = c, true
		}
	}
	return best, found
}

// Signature computes the left/right bitmap for a chosen split: bit set
// (added to the bitmap) means "goes right" (spec.md §3's split_signature:
// 0=left, 1=right). bucketOf resolves each doc's bucket code.
func Signature(docIDs []uint32, bucketIndex int, bucketOf func(doc uint32) uint64) *roaring.Bitmap {
	bm := roaring.New()
	for _, d := range docIDs {
		if bucketOf(d) >= uint64(bucketIndex) {
			bm.Add(d)
		}
	}
	return bm
}

// ApplyInverseConvention implements spec.md §4.6's post-split detail: if
// the right side ends up with more documents than the left, flip the
// convention so left >= right in size, recomputing the signature (which,
// for a 0/1 bitmap, is simply its complement over the doc set).
func ApplyInverseConvention(docIDs []uint32, sig *roaring.Bitmap) (out *roaring.Bitmap, inverse bool) {
	rightCount := int(sig.GetCardinality())
	leftCount := len(docIDs) - rightCount
	if rightCount <= leftCount {
		return sig, false
	}
	all := roaring.New()
	for _, d := range docIDs {
		all.Add(d)
	}
	return roaring.AndNot(all, sig), true
}

// OpenSplit is one entry in the leaf-growing max-heap: a node awaiting a
// split, keyed by its best candidate's score.
type OpenSplit struct {
	Candidate Candidate
}

// Heap is a max-heap of OpenSplit ordered by Candidate.Score, implementing
// spec.md §4.6's "Leaf selection (growing the tree)" loop structure.
type Heap []OpenSplit

func (h Heap) Len() int            { return len(h) }
func (h Heap) Less(i, j int) bool  { return h[i].Candidate.Score > h[j].Candidate.Score }
func (h Heap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *Heap) Push(x interface{}) { *h = append(*h, x.(OpenSplit)) }
func (h *Heap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// NewHeap returns an initialized empty Heap ready for heap.Push/heap.Pop.
func NewHeap() *Heap {
	h := &Heap{}
	heap.Init(h)
	return h
}
