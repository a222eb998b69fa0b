package gbtree

import (
	"testing"

	"github.com/tealtree/tealtree/internal/bucketize"
	"github.com/tealtree/tealtree/internal/document"
	"github.com/tealtree/tealtree/internal/feature"
	"github.com/tealtree/tealtree/internal/split"
)

// TestGrowTreeSparseV1AndV2AgreeAfterMultipleSplits is spec.md §8 scenario
// 4 at the single-tree level: growing the same data with SparseV1 and
// SparseV2 must choose the same sequence of splits and leaf values. Unlike
// gbtree_test.go's single-split cases, n_leaves here forces several
// rounds, so SparseV2 must actually repartition its shards via Split —
// the thing the wiring in this package is responsible for.
func TestGrowTreeSparseV1AndV2AgreeAfterMultipleSplits(t *testing.T) {
	n := 60
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = float64(i % 6)
	}
	tbl, err := bucketize.Build("x", vals, 16)
	if err != nil {
		t.Fatal(err)
	}
	codes := make([]uint64, n)
	for i, v := range vals {
		codes[i] = uint64(tbl.BucketOf(v))
	}

	buildDocs := func() (*document.Set, []uint32) {
		docs := document.NewSet(n)
		rootDocIDs := make([]uint32, n)
		for i := 0; i < n; i++ {
			d := docs.Append(0, float32(vals[i]))
			d.Gradient = -float32(vals[i])
			rootDocIDs[i] = uint32(i)
		}
		return docs, rootDocIDs
	}

	growOpts := GrowOptions{
		MaxLeaves:     6,
		MinNodeWeight: 1,
		Spread:        split.Linear,
		LearningRate:  0.5,
	}

	v1Docs, rootDocIDs1 := buildDocs()
	v1Tree, err := GrowTree([]feature.Feature{feature.NewSparseV1("x", tbl, codes)}, v1Docs, rootDocIDs1, growOpts)
	if err != nil {
		t.Fatalf("GrowTree (v1): %v", err)
	}

	v2Docs, rootDocIDs2 := buildDocs()
	v2Tree, err := GrowTree([]feature.Feature{feature.NewSparseV2("x", tbl, codes, 0)}, v2Docs, rootDocIDs2, growOpts)
	if err != nil {
		t.Fatalf("GrowTree (v2): %v", err)
	}

	if len(v1Tree.Nodes) != len(v2Tree.Nodes) {
		t.Fatalf("node count: v1=%d v2=%d", len(v1Tree.Nodes), len(v2Tree.Nodes))
	}
	for i := range v1Tree.Nodes {
		n1, n2 := v1Tree.Nodes[i], v2Tree.Nodes[i]
		if n1.IsLeaf() != n2.IsLeaf() {
			t.Fatalf("node %d: leaf mismatch v1=%v v2=%v", i, n1.IsLeaf(), n2.IsLeaf())
		}
		if n1.IsLeaf() {
			if diff := n1.Value - n2.Value; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("node %d leaf value: v1=%v v2=%v", i, n1.Value, n2.Value)
			}
			continue
		}
		if n1.FeatureIdx != n2.FeatureIdx || n1.Threshold != n2.Threshold || n1.Inverse != n2.Inverse {
			t.Fatalf("node %d split: v1=%+v v2=%+v", i, n1, n2)
		}
	}

	for i := 0; i < n; i++ {
		if diff := v1Docs.At(i).Score - v2Docs.At(i).Score; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("doc %d score: v1=%v v2=%v", i, v1Docs.At(i).Score, v2Docs.At(i).Score)
		}
	}
}
