package gbtree

import (
	"container/heap"

	"github.com/tealtree/tealtree/internal/document"
	"github.com/tealtree/tealtree/internal/feature"
	"github.com/tealtree/tealtree/internal/histogram"
	"github.com/tealtree/tealtree/internal/split"
)

// GrowOptions parameterizes one call to GrowTree, carrying spec.md §6's
// per-run CLI knobs that affect tree shape.
type GrowOptions struct {
	MaxLeaves     int
	MaxDepth      int // 0 means unlimited
	MinNodeWeight float64
	NewtonStep    bool
	Spread        split.SpreadKind
	Lambda        float64 // only applied when Spread == split.Quadratic
	LearningRate  float64
	DebugInfo     bool

	// RunParallel, if set, is used to compute one tree node's per-feature
	// histograms concurrently (spec.md §4.5: "Histograms for different
	// features are computed on separate worker tasks"). tasks writes are
	// index-disjoint so no synchronization is required beyond waiting
	// for all tasks to finish. nil means run sequentially; internal/
	// trainer supplies a pool-backed implementation.
	RunParallel func(tasks []func())
}

func runTasks(tasks []func(), runParallel func([]func())) {
	if runParallel != nil {
		runParallel(tasks)
		return
	}
	for _, t := range tasks {
		t()
	}
}

// computeHistograms computes every feature's histogram over one leaf's
// doc-id list. nodeIdx doubles as that leaf's shard id for sharded
// features (spec.md §4.4): GrowTree assigns shard ids from tree node
// indices, so the same id that names a leaf in nodeDocIDs/nodeHist also
// names its shard.
func computeHistograms(nodeIdx int, features []feature.Feature, docIDs []uint32, docs *document.Set, newtonStep bool, runParallel func([]func())) []*histogram.Histogram {
	hists := make([]*histogram.Histogram, len(features))
	tasks := make([]func(), len(features))
	for i, f := range features {
		i, f := i, f
		tasks[i] = func() {
			hists[i] = histogram.Compute(f, uint32(nodeIdx), docIDs, docs, newtonStep)
		}
	}
	runTasks(tasks, runParallel)
	return hists
}

// leafBucketOf builds a bucket-lookup function over one leaf's documents
// via IterateLeaf, valid regardless of encoding or how many prior splits
// have partitioned the feature's shards (feat.Bucket itself is only valid
// for SparseV2 before its first Split — see its doc comment).
func leafBucketOf(feat feature.Feature, nodeIdx int, docIDs []uint32) func(doc uint32) uint64 {
	defaultCode := uint64(feat.Table().DefaultBucket)
	exceptions := make(map[uint32]uint64)
	feat.IterateLeaf(uint32(nodeIdx), docIDs, func(relPos int, code uint64) {
		exceptions[docIDs[relPos]] = code
	})
	return func(doc uint32) uint64 {
		if c, ok := exceptions[doc]; ok {
			return c
		}
		return defaultCode
	}
}

// splitSharded calls Split on every Sharded feature so its per-leaf shard
// table tracks the same document partition the tree just committed to,
// not only the feature the split was chosen on (spec.md §4.4: every
// sparse-v2 feature maintains its own shard per live leaf).
func splitSharded(features []feature.Feature, nodeIdx int, docIDs []uint32, direction func(relPos int) bool, leftIdx, rightIdx int) error {
	for _, f := range features {
		sf, ok := f.(feature.Sharded)
		if !ok {
			continue
		}
		if err := sf.Split(uint32(nodeIdx), len(docIDs), direction, uint32(leftIdx), uint32(rightIdx)); err != nil {
			return err
		}
	}
	return nil
}

// finalizeSharded merges every Sharded feature's live-leaf shards back
// into a single stream at end-of-tree (spec.md §4.4's finalize-tree
// consolidation), resetting each one to a single root shard at id 0 ready
// for the next tree.
func finalizeSharded(features []feature.Feature, nodeDocIDs map[int][]uint32, debugCheck bool) error {
	var leafDocIDs map[uint32][]uint32
	for _, f := range features {
		sf, ok := f.(feature.Sharded)
		if !ok {
			continue
		}
		if leafDocIDs == nil {
			leafDocIDs = make(map[uint32][]uint32, len(nodeDocIDs))
			for idx, docIDs := range nodeDocIDs {
				leafDocIDs[uint32(idx)] = docIDs
			}
		}
		if err := sf.FinalizeTree(leafDocIDs, 0, debugCheck); err != nil {
			return err
		}
	}
	return nil
}

// lambdaFor returns the regularization lambda applicable to the split
// score formula: nonzero only for quadratic spread (spec.md §4.6).
func lambdaFor(opts GrowOptions) float64 {
	if opts.Spread == split.Quadratic {
		return opts.Lambda
	}
	return 0
}

// GrowTree grows one tree over rootDocIDs per spec.md §4.6's leaf-growing
// loop, then finalizes every leaf's value per §4.7 and adds it to each
// contained document's running Score. features must be in the same
// order as the persisted ensemble's feature list (Candidate.FeatureIdx
// indexes into it). Leaf ids are tree node indices, the same ids
// Sharded.Split/FinalizeTree use to key their shard tables, so the root
// is always leaf/shard id 0.
func GrowTree(features []feature.Feature, docs *document.Set, rootDocIDs []uint32, opts GrowOptions) (*Tree, error) {
	tree := NewTree(0)

	nodeDocIDs := map[int][]uint32{0: rootDocIDs}
	nodeDepth := map[int]int{0: 0}
	nodeHist := map[int][]*histogram.Histogram{}

	h := split.NewHeap()
	lambda := lambdaFor(opts)

	// enqueueNode records a node's doc ids/depth/histograms and, if it's
	// within the depth limit and has a positive-score split, pushes its
	// best candidate onto the growing heap. hists may be nil, meaning
	// "compute them now" (used for the root, which has no parent to
	// derive histograms from via subtraction).
	enqueueNode := func(nodeIdx int, docIDs []uint32, depth int, hists []*histogram.Histogram) {
		nodeDocIDs[nodeIdx] = docIDs
		nodeDepth[nodeIdx] = depth
		if len(docIDs) == 0 {
			return
		}
		if hists == nil {
			hists = computeHistograms(nodeIdx, features, docIDs, docs, opts.NewtonStep, opts.RunParallel)
		}
		nodeHist[nodeIdx] = hists
		if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
			return
		}
		cand, ok := split.BestOverFeatures(uint32(nodeIdx), hists, opts.Spread, opts.MinNodeWeight, lambda)
		if !ok || cand.Score <= 0 {
			return
		}
		heap.Push(h, split.OpenSplit{Candidate: cand})
	}

	enqueueNode(0, rootDocIDs, 0, nil)
	leaves := 1

	for leaves < opts.MaxLeaves && h.Len() > 0 {
		top := heap.Pop(h).(split.OpenSplit)
		cand := top.Candidate
		nodeIdx := int(cand.NodeID)
		docIDs, ok := nodeDocIDs[nodeIdx]
		if !ok {
			continue
		}

		feat := features[cand.FeatureIdx]
		sig := split.Signature(docIDs, cand.BucketIndex, leafBucketOf(feat, nodeIdx, docIDs))
		sig, inverse := split.ApplyInverseConvention(docIDs, sig)
		threshold := feat.Table().Min[cand.BucketIndex]

		leftIdx, rightIdx := tree.AddSplit(nodeIdx, cand.FeatureIdx, threshold, inverse)
		if opts.DebugInfo {
			tree.Nodes[nodeIdx].Debug = &DebugInfo{
				NDocs:          len(docIDs),
				Spread:         cand.Score,
				SplitFeature:   cand.FeatureIdx,
				SplitThreshold: threshold,
			}
		}

		var left, right []uint32
		for _, d := range docIDs {
			if sig.Contains(d) {
				right = append(right, d)
			} else {
				left = append(left, d)
			}
		}

		direction := func(relPos int) bool { return sig.Contains(docIDs[relPos]) }
		if err := splitSharded(features, nodeIdx, docIDs, direction, leftIdx, rightIdx); err != nil {
			return nil, err
		}

		parentHists := nodeHist[nodeIdx]
		rightHists := computeHistograms(rightIdx, features, right, docs, opts.NewtonStep, opts.RunParallel)
		leftHists := make([]*histogram.Histogram, len(features))
		for i := range features {
			leftHists[i] = histogram.Subtract(parentHists[i], rightHists[i])
		}
		nodeHist[leftIdx] = leftHists
		nodeHist[rightIdx] = rightHists

		childDepth := nodeDepth[nodeIdx] + 1
		delete(nodeDocIDs, nodeIdx)
		delete(nodeHist, nodeIdx)
		leaves++

		enqueueNode(leftIdx, left, childDepth, leftHists)
		enqueueNode(rightIdx, right, childDepth, rightHists)
	}

	if err := finalizeSharded(features, nodeDocIDs, opts.DebugInfo); err != nil {
		return nil, err
	}
	finalizeLeaves(tree, docs, nodeDocIDs, opts)
	return tree, nil
}

// finalizeLeaves computes spec.md §4.7's leaf value for every remaining
// leaf and adds it to each contained document's running Score.
func finalizeLeaves(tree *Tree, docs *document.Set, nodeDocIDs map[int][]uint32, opts GrowOptions) {
	lambda := lambdaFor(opts)
	for idx := range tree.Nodes {
		if !tree.Nodes[idx].IsLeaf() {
			continue
		}
		docIDs := nodeDocIDs[idx]
		var sumGrad, sumHess float64
		for _, d := range docIDs {
			doc := docs.At(int(d))
			sumGrad += float64(doc.Gradient)
			sumHess += float64(doc.Hessian)
		}
		val := LeafValue(sumGrad, sumHess, len(docIDs), opts.NewtonStep, lambda, opts.LearningRate)
		tree.Nodes[idx].Value = val
		if opts.DebugInfo {
			if tree.Nodes[idx].Debug == nil {
				tree.Nodes[idx].Debug = &DebugInfo{}
			}
			tree.Nodes[idx].Debug.NDocs = len(docIDs)
		}
		for _, d := range docIDs {
			docs.At(int(d)).Score += float32(val)
		}
	}
}
