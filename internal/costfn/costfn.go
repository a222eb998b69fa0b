// Package costfn implements the three cost functions from spec.md §2 item
// 8 and §4.8 behind one dispatch-friendly interface: linear regression,
// logistic regression (binary classification), and LambdaRank.
package costfn

import (
	"math"

	"github.com/tealtree/tealtree/internal/document"
)

// Function is the uniform capability interface the trainer drives.
// Pointwise cost functions implement ComputePoint; query-based ones
// (LambdaRank) implement ComputeQuery instead, after Prepare runs once
// per tree to refresh any per-query precomputation.
type Function interface {
	Name() string
	IsQueryBased() bool
	NewtonStep() bool
	// Prepare runs once before each tree's gradient pass. All three cost
	// functions here implement it as a no-op (LambdaRank recomputes IDCG
	// inside ComputeQuery); the hook exists so a cost function could
	// depend on per-round state.
	Prepare(docs *document.Set)
	// ComputePoint sets doc.Gradient (and doc.Hessian, if NewtonStep) for
	// pointwise cost functions. No-op for query-based ones.
	ComputePoint(doc *document.Document)
	// ComputeQuery sets Gradient/Hessian for every document in group, for
	// query-based cost functions. No-op for pointwise ones.
	ComputeQuery(group document.Range, docs *document.Set)
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// LinearRegression implements squared-error regression: gradient is the
// residual (score - target), Newton-step hessian is constant 1.
type LinearRegression struct {
	Newton bool
}

func (f *LinearRegression) Name() string         { return "linear_regression" }
func (f *LinearRegression) IsQueryBased() bool    { return false }
func (f *LinearRegression) NewtonStep() bool      { return f.Newton }
func (f *LinearRegression) Prepare(*document.Set) {}

func (f *LinearRegression) ComputePoint(doc *document.Document) {
	doc.Gradient = doc.Score - doc.TargetScore
	if f.Newton {
		doc.Hessian = 1
	}
}

func (f *LinearRegression) ComputeQuery(document.Range, *document.Set) {}

// LogisticRegression implements binary classification with {0,1} labels:
// gradient is sigmoid(score) - target, Newton-step hessian is
// sigmoid(score)*(1-sigmoid(score)).
type LogisticRegression struct {
	Newton bool
}

func (f *LogisticRegression) Name() string         { return "logistic_regression" }
func (f *LogisticRegression) IsQueryBased() bool    { return false }
func (f *LogisticRegression) NewtonStep() bool      { return f.Newton }
func (f *LogisticRegression) Prepare(*document.Set) {}

func (f *LogisticRegression) ComputePoint(doc *document.Document) {
	p := sigmoid(float64(doc.Score))
	doc.Gradient = float32(p) - doc.TargetScore
	if f.Newton {
		doc.Hessian = float32(p * (1 - p))
	}
}

func (f *LogisticRegression) ComputeQuery(document.Range, *document.Set) {}
