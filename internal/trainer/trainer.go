// Package trainer drives the ensemble-building loop described across
// spec.md §4 and grounded on original_source/src/trainer.cpp and
// workflow.cpp's Workflow::train_ensemble/train_a_tree: per-tree gradient
// computation, tree growth via internal/gbtree, leaf finalization, and the
// soft overfitting-detection warnings the original logs once per run.
package trainer

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"go.uber.org/zap"

	"github.com/tealtree/tealtree/internal/costfn"
	"github.com/tealtree/tealtree/internal/document"
	"github.com/tealtree/tealtree/internal/feature"
	"github.com/tealtree/tealtree/internal/gbtree"
	"github.com/tealtree/tealtree/internal/pool"
	"github.com/tealtree/tealtree/internal/split"
	"github.com/tealtree/tealtree/internal/ttlog"
)

// Options carries spec.md §6's per-run training knobs.
type Options struct {
	NTrees        int
	NLeaves       int
	MaxDepth      int // 0 means unlimited, per spec.md §4.6
	MinNodeDocs   int
	MinNodeHessian float64
	NewtonStep    bool
	Spread        split.SpreadKind
	Lambda        float64
	LearningRate  float64
	BaseScore     float64
	DebugInfo     bool
	NThreads      int // 0 means runtime.NumCPU(), per workflow.cpp's get_concurrency
}

// scoreOverflowThreshold mirrors workflow.cpp's check_for_overflow 1e12
// cutoff: past this magnitude, large scores likely indicate overfitting
// rather than a legitimate prediction.
const scoreOverflowThreshold = 1e12

// traceDocLimit mirrors workflow.cpp's log_gradient: only the first 100
// documents' gradients (and hessians, under Newton step) are logged.
const traceDocLimit = 100

// Trainer drives the boosting loop over a fixed document set and feature
// list, one tree at a time, matching original_source/src/trainer.cpp's
// Trainer plus workflow.cpp's Workflow::train_a_tree orchestration.
type Trainer struct {
	docs     *document.Set
	features []feature.Feature
	meta     []gbtree.FeatureMeta
	costFn   costfn.Function
	opts     Options
	pool     *pool.Pool

	warnedScoreTooLarge bool
	warnedTreeTooShort  bool
}

// New builds a Trainer over docs/features, which must already be
// populated and index-aligned with meta (ingest's job). costFn determines
// the gradient/hessian computation and whether growth is pointwise or
// query-grouped.
func New(docs *document.Set, features []feature.Feature, meta []gbtree.FeatureMeta, costFn costfn.Function, opts Options) *Trainer {
	capacity := opts.NThreads
	if capacity <= 0 {
		capacity = runtime.NumCPU()
	}
	return &Trainer{
		docs:     docs,
		features: features,
		meta:     meta,
		costFn:   costFn,
		opts:     opts,
		pool:     pool.New("trainer", capacity),
	}
}

// Train runs the full boosting loop: an optional --base_score initial
// tree, then opts.NTrees gradient-boosted trees, returning the finished
// ensemble. Matches workflow.cpp's Workflow::train_ensemble.
func (t *Trainer) Train(ctx context.Context) (*gbtree.Ensemble, error) {
	ttlog.Get().Info("Training started ...")

	ensemble := &gbtree.Ensemble{
		CostFunction: t.costFn.Name(),
		Features:     t.meta,
	}

	if t.opts.BaseScore != 0 {
		ensemble.Trees = append(ensemble.Trees, t.buildBaseScoreTree())
		t.checkForOverflow()
	}

	for i := 0; i < t.opts.NTrees; i++ {
		tree, err := t.trainOneTree(ctx, i)
		if err != nil {
			return nil, err
		}
		ensemble.Trees = append(ensemble.Trees, tree)
		t.checkForOverflow()
	}

	ttlog.Get().Info("Training finished.")
	return ensemble, nil
}

// buildBaseScoreTree adds a constant initial tree (spec.md's supplemented
// --base_score feature) whose single leaf is base_score, added to every
// document's running score. Grounded on trainer.cpp's Trainer::set_base_score.
func (t *Trainer) buildBaseScoreTree() *gbtree.Tree {
	tree := gbtree.NewTree(t.opts.BaseScore)
	for i := 0; i < t.docs.Len(); i++ {
		t.docs.At(i).Score += float32(t.opts.BaseScore)
	}
	return tree
}

// trainOneTree computes this round's gradients, grows one tree over every
// document, and finalizes its leaves, mirroring
// workflow.cpp's Workflow::train_a_tree (minus the timing/progress log
// noise, which lives at the cmd/tealtree layer here).
func (t *Trainer) trainOneTree(ctx context.Context, treeIndex int) (*gbtree.Tree, error) {
	t.computeGradients()
	if ttlog.TraceEnabled() {
		t.logGradients()
	}

	rootDocIDs := make([]uint32, t.docs.Len())
	for i := range rootDocIDs {
		rootDocIDs[i] = uint32(i)
	}

	minWeight := float64(t.opts.MinNodeDocs)
	if t.opts.NewtonStep {
		minWeight = t.opts.MinNodeHessian
	}

	growOpts := gbtree.GrowOptions{
		MaxLeaves:     t.opts.NLeaves,
		MaxDepth:      t.opts.MaxDepth,
		MinNodeWeight: minWeight,
		NewtonStep:    t.opts.NewtonStep,
		Spread:        t.opts.Spread,
		Lambda:        t.opts.Lambda,
		LearningRate:  t.opts.LearningRate,
		DebugInfo:     t.opts.DebugInfo,
		RunParallel:   t.pool.RunAll,
	}

	tree, err := gbtree.GrowTree(t.features, t.docs, rootDocIDs, growOpts)
	if err != nil {
		return nil, err
	}
	if tree.NumLeaves() == 1 {
		ttlog.Get().Warn("cannot split root in this tree. This might indicate overfitting.",
			zap.Int("tree_index", treeIndex))
	} else if tree.NumLeaves() < t.opts.NLeaves && !t.warnedTreeTooShort {
		t.warnedTreeTooShort = true
		ttlog.Get().Warn("terminating tree before max leaves reached.",
			zap.Int("tree_index", treeIndex), zap.Int("leaves", tree.NumLeaves()))
	}
	return tree, nil
}

// computeGradients refreshes every document's Gradient/Hessian for the
// coming round, dispatching to the pointwise or query-grouped path per
// costFn.IsQueryBased(). Matches trainer.cpp's Trainer::start_new_tree
// (cost_function->compute_gradient).
func (t *Trainer) computeGradients() {
	for i := 0; i < t.docs.Len(); i++ {
		t.docs.At(i).Reset()
	}
	t.costFn.Prepare(t.docs)
	if t.costFn.IsQueryBased() {
		for _, group := range t.docs.QueryGroups() {
			t.costFn.ComputeQuery(group, t.docs)
		}
		return
	}
	for i := 0; i < t.docs.Len(); i++ {
		t.costFn.ComputePoint(t.docs.At(i))
	}
}

// logGradients reproduces workflow.cpp's Workflow::log_gradient: the
// first traceDocLimit gradients (and hessians, under Newton step) at
// trace (debug) log level.
func (t *Trainer) logGradients() {
	n := t.docs.Len()
	if n > traceDocLimit {
		n = traceDocLimit
	}
	grads := make([]float32, n)
	for i := 0; i < n; i++ {
		grads[i] = t.docs.At(i).Gradient
	}
	suffix := ""
	if n < t.docs.Len() {
		suffix = ", ..."
	}
	ttlog.Get().Debug(fmt.Sprintf("Computed gradients: %v%s", grads, suffix))

	if t.opts.NewtonStep {
		hess := make([]float32, n)
		for i := 0; i < n; i++ {
			hess[i] = t.docs.At(i).Hessian
		}
		ttlog.Get().Debug(fmt.Sprintf("Computed hessians: %v%s", hess, suffix))
	}
}

// checkForOverflow reproduces workflow.cpp's Workflow::check_for_overflow:
// a soft, once-per-run warning (spec.md §7's NumericOverflow kind is soft)
// when any document's running score exceeds scoreOverflowThreshold in
// magnitude.
func (t *Trainer) checkForOverflow() {
	if t.warnedScoreTooLarge {
		return
	}
	var maxScore float64
	for i := 0; i < t.docs.Len(); i++ {
		if v := math.Abs(float64(t.docs.At(i).Score)); v > maxScore {
			maxScore = v
		}
	}
	if maxScore > scoreOverflowThreshold {
		t.warnedScoreTooLarge = true
		ttlog.Get().Warn("Document scores are getting too large. For ranker this might indicate overfitting.")
	}
}
