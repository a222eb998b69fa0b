// Package ensemble implements spec.md §6's persisted-ensemble JSON
// schema: cost_function, an ordered feature-metadata list, and an
// ordered list of trees, with the threshold of every internal node
// serialized as the decimal text of its feature-domain value rather
// than a bucket index.
package ensemble

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/tealtree/tealtree/internal/gbtree"
	"github.com/tealtree/tealtree/internal/tterr"
)

// wireFeature is the JSON shape of one `features` entry.
type wireFeature struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// wireSplit is the JSON shape of an internal node's `split` object.
type wireSplit struct {
	Feature   int    `json:"feature"`
	Threshold string `json:"threshold"`
	Inverse   bool   `json:"inverse"`
}

// wireDebugInfo is the JSON shape of a node's optional `debug_info`.
type wireDebugInfo struct {
	NDocs          int     `json:"n_docs"`
	Spread         float64 `json:"spread"`
	SplitFeature   int     `json:"split_feature"`
	SplitThreshold string  `json:"split_threshold"`
}

// wireNode is the JSON shape of one tree node: either a leaf (Value set,
// Split nil) or an internal node (Split set, Value omitted).
type wireNode struct {
	Value     *float64       `json:"value,omitempty"`
	Split     *wireSplit     `json:"split,omitempty"`
	LeftID    *int           `json:"left_id,omitempty"`
	RightID   *int           `json:"right_id,omitempty"`
	DebugInfo *wireDebugInfo `json:"debug_info,omitempty"`
}

type wireEnsemble struct {
	CostFunction string       `json:"cost_function"`
	Features     []wireFeature `json:"features"`
	Trees        [][]wireNode  `json:"trees"`
}

// Save writes e to w as spec.md §6's persisted-ensemble JSON.
func Save(w io.Writer, e *gbtree.Ensemble) error {
	out := wireEnsemble{
		CostFunction: e.CostFunction,
		Features:     make([]wireFeature, len(e.Features)),
		Trees:        make([][]wireNode, len(e.Trees)),
	}
	for i, f := range e.Features {
		out.Features[i] = wireFeature{Name: f.Name, Type: f.Kind}
	}
	for i, tree := range e.Trees {
		out.Trees[i] = make([]wireNode, len(tree.Nodes))
		for j, n := range tree.Nodes {
			out.Trees[i][j] = encodeNode(n)
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return tterr.WrapCorruptEnsemble(err, "encoding ensemble")
	}
	return nil
}

func encodeNode(n gbtree.Node) wireNode {
	var wn wireNode
	if n.IsLeaf() {
		v := n.Value
		wn.Value = &v
	} else {
		left, right := n.Left, n.Right
		wn.LeftID = &left
		wn.RightID = &right
		wn.Split = &wireSplit{
			Feature:   n.FeatureIdx,
			Threshold: strconv.FormatFloat(n.Threshold, 'g', -1, 64),
			Inverse:   n.Inverse,
		}
	}
	if n.Debug != nil {
		wn.DebugInfo = &wireDebugInfo{
			NDocs:          n.Debug.NDocs,
			Spread:         n.Debug.Spread,
			SplitFeature:   n.Debug.SplitFeature,
			SplitThreshold: strconv.FormatFloat(n.Debug.SplitThreshold, 'g', -1, 64),
		}
	}
	return wn
}

// Load reads an ensemble previously written by Save. Any structural or
// numeric-parse failure is reported as tterr.CorruptEnsemble, per
// spec.md §7.
func Load(r io.Reader) (*gbtree.Ensemble, error) {
	var in wireEnsemble
	dec := json.NewDecoder(r)
	if err := dec.Decode(&in); err != nil {
		return nil, tterr.WrapCorruptEnsemble(err, "decoding ensemble")
	}

	e := &gbtree.Ensemble{
		CostFunction: in.CostFunction,
		Features:     make([]gbtree.FeatureMeta, len(in.Features)),
		Trees:        make([]*gbtree.Tree, len(in.Trees)),
	}
	for i, f := range in.Features {
		e.Features[i] = gbtree.FeatureMeta{Name: f.Name, Kind: f.Type}
	}
	for i, wireNodes := range in.Trees {
		tree := &gbtree.Tree{Nodes: make([]gbtree.Node, len(wireNodes))}
		for j, wn := range wireNodes {
			n, err := decodeNode(wn)
			if err != nil {
				return nil, tterr.WrapCorruptEnsemble(err, "tree node")
			}
			tree.Nodes[j] = n
		}
		e.Trees[i] = tree
	}
	return e, nil
}

func decodeNode(wn wireNode) (gbtree.Node, error) {
	var n gbtree.Node
	switch {
	case wn.Split != nil:
		threshold, err := strconv.ParseFloat(wn.Split.Threshold, 64)
		if err != nil {
			return n, tterr.WrapCorruptEnsemble(err, "unparseable threshold")
		}
		if wn.LeftID == nil || wn.RightID == nil {
			return n, tterr.NewCorruptEnsemble("internal node missing left_id/right_id")
		}
		n.Left, n.Right = *wn.LeftID, *wn.RightID
		n.FeatureIdx = wn.Split.Feature
		n.Threshold = threshold
		n.Inverse = wn.Split.Inverse
	case wn.Value != nil:
		n.Value = *wn.Value
	default:
		return n, tterr.NewCorruptEnsemble("node has neither value nor split")
	}
	if wn.DebugInfo != nil {
		splitThreshold, err := strconv.ParseFloat(wn.DebugInfo.SplitThreshold, 64)
		if err != nil && wn.DebugInfo.SplitThreshold != "N/A" {
			return n, tterr.WrapCorruptEnsemble(err, "unparseable debug split_threshold")
		}
		n.Debug = &gbtree.DebugInfo{
			NDocs:          wn.DebugInfo.NDocs,
			Spread:         wn.DebugInfo.Spread,
			SplitFeature:   wn.DebugInfo.SplitFeature,
			SplitThreshold: splitThreshold,
		}
	}
	return n, nil
}
