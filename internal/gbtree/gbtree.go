// Package gbtree defines the grown-tree and ensemble types: the output
// of spec.md §4.6's leaf-growing loop and §4.7's leaf-value finalization,
// and the container spec.md §6 persists as the ensemble JSON.
package gbtree

import "math"

// Node is one node of a grown tree. A leaf has Left == Right == 0 and
// carries Value; an internal node carries a split and child indices.
// Index 0 is always the root.
type Node struct {
	Left, Right int // child node indices; 0,0 means this node is a leaf

	// Internal-node fields.
	FeatureIdx int
	Threshold  float64 // feature-domain value, not a bucket index
	Inverse    bool    // spec.md §4.6: true if left/right were swapped to keep left >= right in size

	// Leaf-node fields.
	Value float64

	// Debug fields, populated only when the tree is grown with
	// collectDebugInfo (spec.md's "Tree debug info" supplemented
	// feature). Zero value when debug info was not requested.
	Debug *DebugInfo
}

// DebugInfo mirrors the persisted ensemble's optional debug_info object:
// per-node n_docs, spread (best split score at the time this node was
// split, or 0 for a leaf that was never split further), and the chosen
// split's feature/threshold for easy inspection without a bucket table.
type DebugInfo struct {
	NDocs          int
	Spread         float64
	SplitFeature   int
	SplitThreshold float64
}

// IsLeaf reports whether n is a leaf node.
func (n *Node) IsLeaf() bool { return n.Left == 0 && n.Right == 0 }

// Tree is a grown decision tree: a flat slice of Node, root at index 0.
type Tree struct {
	Nodes []Node
}

// NewTree returns a single-leaf tree (used both as the starting point of
// growth and as the optional --base_score initial tree).
func NewTree(rootValue float64) *Tree {
	return &Tree{Nodes: []Node{{Value: rootValue}}}
}

// AddSplit turns the leaf at parentIdx into an internal node and appends
// two new leaf nodes, returning their indices. Matches spec.md §4.6's
// "n_tree_nodes = 2*n_leaves - 1" bookkeeping: each split adds exactly
// two nodes.
func (t *Tree) AddSplit(parentIdx, featureIdx int, threshold float64, inverse bool) (leftIdx, rightIdx int) {
	leftIdx = len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{})
	rightIdx = len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{})

	t.Nodes[parentIdx].FeatureIdx = featureIdx
	t.Nodes[parentIdx].Threshold = threshold
	t.Nodes[parentIdx].Inverse = inverse
	t.Nodes[parentIdx].Left = leftIdx
	t.Nodes[parentIdx].Right = rightIdx
	return
}

// NumLeaves counts leaf nodes.
func (t *Tree) NumLeaves() int {
	n := 0
	for i := range t.Nodes {
		if t.Nodes[i].IsLeaf() {
			n++
		}
	}
	return n
}

// Predict walks the tree for one document's feature values (indexed by
// FeatureIdx, in the feature-domain, already-decoded form — the caller is
// responsible for resolving bucket codes back to raw values) and returns
// the reached leaf's Value.
//
// lookup(featureIdx) returns the document's value for that feature. The
// inverse flag means the stored split was flipped from the natural
// "value < threshold goes left" sense (spec.md §4.6's post-split
// convention), so traversal must un-flip it: go right when
// value < threshold.
func (t *Tree) Predict(lookup func(featureIdx int) float64) float64 {
	idx := 0
	for !t.Nodes[idx].IsLeaf() {
		n := &t.Nodes[idx]
		v := lookup(n.FeatureIdx)
		goLeft := v < n.Threshold
		if n.Inverse {
			goLeft = !goLeft
		}
		if goLeft {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
	return t.Nodes[idx].Value
}

// LeafValue computes spec.md §4.7's leaf value: -learning_rate * avg_grad,
// where avg_grad is sum_grad/n_docs for gradient step or
// sum_grad/(sum_hessian+lambda) for Newton step.
func LeafValue(sumGrad, sumHessian float64, nDocs int, newtonStep bool, lambda, learningRate float64) float64 {
	var avgGrad float64
	if newtonStep {
		avgGrad = sumGrad / (sumHessian + lambda)
	} else {
		avgGrad = sumGrad / float64(nDocs)
	}
	if math.IsNaN(avgGrad) || math.IsInf(avgGrad, 0) {
		return 0
	}
	return -learningRate * avgGrad
}

// FeatureMeta is one entry of the ensemble's ordered feature list
// (spec.md §6's persisted `features` array: `{name, type}`).
type FeatureMeta struct {
	Name string
	Kind string // one of the seven raw-feature type names
}

// Ensemble is the full trained model: feature metadata plus an ordered
// list of trees, summed to produce a prediction (spec.md §3).
type Ensemble struct {
	CostFunction string
	Features     []FeatureMeta
	Trees        []*Tree
}

// Predict sums every tree's contribution for one document.
func (e *Ensemble) Predict(lookup func(featureIdx int) float64) float64 {
	var score float64
	for _, t := range e.Trees {
		score += t.Predict(lookup)
	}
	return score
}
