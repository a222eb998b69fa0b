package split

import (
	"container/heap"
	"testing"

	"github.com/tealtree/tealtree/internal/histogram"
)

func TestBestForFeaturePicksHighestScore(t *testing.T) {
	h := histogram.New(4)
	// Bucket 0 strongly positive, bucket 3 strongly negative, middle
	// buckets neutral: the clean separation is right after bucket 0.
	h.Add(0, 100, 10)
	h.Add(1, 0, 10)
	h.Add(2, 0, 10)
	h.Add(3, -100, 10)

	c, ok := BestForFeature(1, 0, h, Linear, 1, 0)
	if !ok {
		t.Fatal("expected a candidate")
	}
	if c.BucketIndex != 1 {
		t.Fatalf("got bucket index %d, want 1 (split right after the outlier bucket)", c.BucketIndex)
	}
}

func TestBestForFeatureSkipsBelowMinWeight(t *testing.T) {
	h := histogram.New(2)
	h.Add(0, 5, 0.5)
	h.Add(1, 5, 100)
	_, ok := BestForFeature(1, 0, h, Linear, 1, 0)
	if ok {
		t.Fatal("expected no candidate: left side always below min weight")
	}
}

func TestBestOverFeaturesTieBrokenByOrder(t *testing.T) {
	h1 := histogram.New(2)
	h1.Add(0, 5, 5)
	h1.Add(1, -5, 5)
	h2 := histogram.New(2)
	h2.Add(0, 5, 5)
	h2.Add(1, -5, 5)

	c, ok := BestOverFeatures(1, []*histogram.Histogram{h1, h2}, Linear, 1, 0)
	if !ok {
		t.Fatal("expected a candidate")
	}
	if c.FeatureIdx != 0 {
		t.Fatalf("expected tie to favor feature 0, got %d", c.FeatureIdx)
	}
}

func TestApplyInverseConventionFlipsWhenRightBigger(t *testing.T) {
	docs := []uint32{0, 1, 2, 3, 4}
	sig := Signature(docs, 1, func(d uint32) uint64 {
		if d == 0 {
			return 0 // only doc 0 goes left
		}
		return 1 // everyone else goes right
	})
	out, inverse := ApplyInverseConvention(docs, sig)
	if !inverse {
		t.Fatal("expected inverse=true since right(4) > left(1)")
	}
	if out.GetCardinality() != 1 || !out.Contains(0) {
		t.Fatalf("expected inverted signature to contain only doc 0, got card=%d", out.GetCardinality())
	}
}

func TestApplyInverseConventionNoFlipWhenLeftBigger(t *testing.T) {
	docs := []uint32{0, 1, 2, 3, 4}
	sig := Signature(docs, 1, func(d uint32) uint64 {
		if d == 4 {
			return 1
		}
		return 0
	})
	out, inverse := ApplyInverseConvention(docs, sig)
	if inverse {
		t.Fatal("expected inverse=false since left(4) >= right(1)")
	}
	if out.GetCardinality() != 1 {
		t.Fatalf("expected unchanged signature card=1, got %d", out.GetCardinality())
	}
}

func TestHeapPopsHighestScoreFirst(t *testing.T) {
	h := NewHeap()
	heap.Push(h, OpenSplit{Candidate: Candidate{NodeID: 1, Score: 3}})
	heap.Push(h, OpenSplit{Candidate: Candidate{NodeID: 2, Score: 9}})
	heap.Push(h, OpenSplit{Candidate: Candidate{NodeID: 3, Score: 5}})

	var order []uint32
	for h.Len() > 0 {
		top := heap.Pop(h).(OpenSplit)
		order = append(order, top.Candidate.NodeID)
	}
	want := []uint32{2, 3, 1}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("pop order=%v want %v", order, want)
		}
	}
}
