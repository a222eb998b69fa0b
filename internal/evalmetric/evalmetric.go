// Package evalmetric implements spec.md §6's evaluation metrics (RMSE,
// Accuracy, NDCG/NDCG@N) over a stream of evaluated rows, one score per
// ensemble "epoch" (the running prediction after including the first N
// trees, per --output_epochs), grounded on
// original_source/src/metric.h's Metric/AveragingMetric/QueryBasedMetric
// hierarchy.
package evalmetric

import (
	"fmt"
	"math"
	"sort"
)

// Row is one evaluated document: its label, query grouping key (ignored
// by pointwise metrics), and one running score per epoch.
type Row struct {
	Label   float64
	QueryID uint32
	Scores  []float64
}

// Metric accumulates evaluated rows and reports one value per epoch.
// Query-based metrics (NDCG) require rows for the same query to arrive
// contiguously, exactly like document.Set's QueryGroups requirement.
type Metric interface {
	Name() string
	IsQueryBased() bool
	ConsumeRow(row Row) error
	// Finish flushes any buffered state (the last pending query, for
	// query-based metrics) and returns the final per-epoch average.
	Finish() []float64
}

// dcgCoef matches original_source/src/util.h's get_dcg_coefficient_explicit.
func dcgCoef(pos int) float64 { return 1 / math.Log2(2+float64(pos)) }

// averaging accumulates a running per-epoch sum and a row count, the
// shared plumbing behind every Metric here (AveragingMetric in metric.h).
type averaging struct {
	sums  []float64
	count int
}

func (a *averaging) add(vals []float64) error {
	if len(a.sums) == 0 {
		a.sums = make([]float64, len(vals))
	} else if len(a.sums) != len(vals) {
		return fmt.Errorf("evalmetric: row has %d epochs, expected %d", len(vals), len(a.sums))
	}
	for i, v := range vals {
		a.sums[i] += v
	}
	a.count++
	return nil
}

func (a *averaging) epochs() []float64 {
	out := make([]float64, len(a.sums))
	if a.count == 0 {
		return out
	}
	for i, s := range a.sums {
		out[i] = s / float64(a.count)
	}
	return out
}

// RMSE is the root-mean-squared-error pointwise metric.
type RMSE struct{ avg averaging }

func NewRMSE() *RMSE { return &RMSE{} }

func (m *RMSE) Name() string      { return "RMSE" }
func (m *RMSE) IsQueryBased() bool { return false }

func (m *RMSE) ConsumeRow(row Row) error {
	errs := make([]float64, len(row.Scores))
	for i, s := range row.Scores {
		d := s - row.Label
		errs[i] = d * d
	}
	return m.avg.add(errs)
}

func (m *RMSE) Finish() []float64 {
	e := m.avg.epochs()
	for i, v := range e {
		e[i] = math.Sqrt(v)
	}
	return e
}

// Accuracy is the {0,1}-threshold-at-0.5 binary classification metric.
type Accuracy struct{ avg averaging }

func NewAccuracy() *Accuracy { return &Accuracy{} }

func (m *Accuracy) Name() string      { return "Accuracy" }
func (m *Accuracy) IsQueryBased() bool { return false }

func (m *Accuracy) ConsumeRow(row Row) error {
	vals := make([]float64, len(row.Scores))
	for i, s := range row.Scores {
		if (s >= 0.5) == (row.Label >= 0.5) {
			vals[i] = 1
		}
	}
	return m.avg.add(vals)
}

func (m *Accuracy) Finish() []float64 { return m.avg.epochs() }

// NDCG is Normalized Discounted Cumulative Gain, optionally truncated to
// the top Depth ranks (Depth == 0 means unbounded, matching the
// --metric {ndcg,ndcg@N} flag from spec.md §6).
type NDCG struct {
	Depth int

	avg      averaging
	pending  *queryBuf
	lastID   uint32
	hasQuery bool
}

type queryBuf struct {
	labels []float64
	scores [][]float64 // scores[row][epoch]
}

func NewNDCG(depth int) *NDCG { return &NDCG{Depth: depth} }

func (m *NDCG) Name() string {
	if m.Depth == 0 {
		return "NDCG"
	}
	return fmt.Sprintf("NDCG@%d", m.Depth)
}

func (m *NDCG) IsQueryBased() bool { return true }

func (m *NDCG) ConsumeRow(row Row) error {
	if !m.hasQuery || row.QueryID != m.lastID {
		if err := m.flush(); err != nil {
			return err
		}
		m.lastID = row.QueryID
		m.hasQuery = true
		m.pending = &queryBuf{}
	}
	m.pending.labels = append(m.pending.labels, row.Label)
	m.pending.scores = append(m.pending.scores, row.Scores)
	return nil
}

func (m *NDCG) Finish() []float64 {
	_ = m.flush()
	return m.avg.epochs()
}

func (m *NDCG) flush() error {
	if m.pending == nil {
		return nil
	}
	q := m.pending
	m.pending = nil
	if len(q.labels) == 0 {
		return nil
	}

	labelOrder := orderDesc(q.labels)
	idcg := m.dcg(q.labels, labelOrder)

	nEpochs := len(q.scores[0])
	ndcgs := make([]float64, nEpochs)
	for epoch := 0; epoch < nEpochs; epoch++ {
		epochScores := make([]float64, len(q.scores))
		for i, s := range q.scores {
			epochScores[i] = s[epoch]
		}
		order := orderDesc(epochScores)
		dcg := m.dcg(q.labels, order)
		if idcg > 0 {
			ndcgs[epoch] = dcg / idcg
		}
	}
	return m.avg.add(ndcgs)
}

// dcg sums dcgCoef(rank) * label[order[rank]] down to m.Depth ranks (or
// every rank, if Depth == 0).
func (m *NDCG) dcg(labels []float64, order []int) float64 {
	depth := m.Depth
	if depth == 0 || depth > len(order) {
		depth = len(order)
	}
	var result float64
	for i := 0; i < depth; i++ {
		result += dcgCoef(i) * labels[order[i]]
	}
	return result
}

// orderDesc returns indices into vals sorted by descending value, with
// ties broken by original position (sort.SliceStable, matching metric.h's
// std::stable_sort).
func orderDesc(vals []float64) []int {
	order := make([]int, len(vals))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return vals[order[i]] > vals[order[j]] })
	return order
}
