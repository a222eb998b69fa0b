// Package bucketize implements spec.md §4.1's bucketizer: it converts a
// raw numeric column into at most M = 2^B ordered buckets, choosing
// between an exact greedy-merge algorithm and an approximate equal-count
// partition depending on the number of distinct values.
package bucketize

import (
	"container/heap"
	"sort"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/tealtree/tealtree/internal/ttlog"
	"github.com/tealtree/tealtree/internal/tterr"
)

// exactMergeThresholdMultiplier is the "2M" cutoff in spec.md §4.1 step 3/4: exact
// greedy merge is used while U < 2*M, approximate equal-count kicks in at
// U >= 2*M.
const exactMergeThresholdMultiplier = 2

// Table is the immutable per-feature output of bucketization: ordered
// bucket lower bounds, the default (highest-frequency) bucket index, and
// the resulting sparsity score.
type Table struct {
	Min            []float64 // bucket i spans [Min[i], Min[i+1)), last spans to +inf
	DefaultBucket  int
	Sparsity       float64
	totalDocs      int
	defaultDocFreq int
}

// NumBuckets reports the number of buckets (K <= M).
func (t *Table) NumBuckets() int { return len(t.Min) }

// BucketOf returns the bucket index for v via binary search over bucket
// lower bounds (spec.md §4.1's "power-of-two stride descent", which
// sort.Search already implements as a binary search).
func (t *Table) BucketOf(v float64) int {
	// sort.Search finds the first index i such that Min[i] > v; the
	// bucket containing v is the one just before that. A v below Min[0]
	// falls into bucket 0.
	i := sort.Search(len(t.Min), func(i int) bool { return t.Min[i] > v })
	if i == 0 {
		return 0
	}
	return i - 1
}

type valueFreq struct {
	value float64
	freq  int
}

// Build computes a Table from raw column values. maxBuckets is M = 2^B.
func Build(featureName string, values []float64, maxBuckets int) (*Table, error) {
	counts := make(map[float64]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	if len(counts) == 0 {
		return nil, tterr.NewBucketizeError("feature %q: no observed values", featureName)
	}

	unique := make([]valueFreq, 0, len(counts))
	for v, f := range counts {
		unique = append(unique, valueFreq{value: v, freq: f})
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].value < unique[j].value })

	var ranges []bucketRange
	switch {
	case len(unique) <= maxBuckets:
		ranges = oneRangePerValue(unique)
	case len(unique) < exactMergeThresholdMultiplier*maxBuckets:
		ranges = exactGreedyMerge(unique, maxBuckets)
	default:
		ranges = approximateEqualCount(unique, maxBuckets)
	}

	mins := make([]float64, len(ranges))
	for i, r := range ranges {
		mins[i] = r.min
	}

	defaultIdx, defaultFreq := 0, -1
	total := 0
	for i, r := range ranges {
		total += r.freq
		if r.freq > defaultFreq {
			defaultFreq, defaultIdx = r.freq, i
		}
	}

	sparsity := 0.0
	if total > 0 {
		sparsity = 1 - float64(defaultFreq)/float64(total)
	}

	ttlog.Get().Debug("bucketized feature",
		zap.String("feature", featureName),
		zap.Int("unique_values", len(unique)),
		zap.Int("buckets", len(ranges)),
		zap.Float64("sparsity", sparsity),
		zap.String("bucket_table_size", humanize.Bytes(uint64(len(ranges)*8))),
	)

	return &Table{
		Min:            mins,
		DefaultBucket:  defaultIdx,
		Sparsity:       sparsity,
		totalDocs:      total,
		defaultDocFreq: defaultFreq,
	}, nil
}

type bucketRange struct {
	min, max float64
	freq     int
}

func oneRangePerValue(unique []valueFreq) []bucketRange {
	ranges := make([]bucketRange, len(unique))
	for i, vf := range unique {
		ranges[i] = bucketRange{min: vf.value, max: vf.value, freq: vf.freq}
	}
	return ranges
}

// exactGreedyMerge implements spec.md §4.1 step 3: maintain doubly-linked
// ranges and a min-heap keyed by absorbable_range = next.max - this.min;
// repeatedly merge the smallest-absorbable-range entry into its right
// neighbor until exactly maxBuckets ranges remain.
func exactGreedyMerge(unique []valueFreq, maxBuckets int) []bucketRange {
	n := len(unique)
	ranges := make([]*linkedRange, n)
	for i, vf := range unique {
		ranges[i] = &linkedRange{min: vf.value, max: vf.value, freq: vf.freq, heapIndex: -1}
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			ranges[i].prev = ranges[i-1]
		}
		if i < n-1 {
			ranges[i].next = ranges[i+1]
		}
	}

	h := &rangeHeap{}
	heap.Init(h)
	for i := 0; i < n-1; i++ {
		// The last range has no right neighbor to be absorbed into.
		r := ranges[i]
		r.absorbable = r.next.max - r.min
		heap.Push(h, r)
	}

	live := n
	for live > maxBuckets {
		r := heap.Pop(h).(*linkedRange)
		if r.removed || r.next == nil {
			continue
		}
		nxt := r.next
		nxt.min = r.min
		nxt.freq += r.freq
		r.removed = true
		live--

		if r.prev != nil {
			r.prev.next = nxt
			nxt.prev = r.prev
			r.prev.absorbable = nxt.max - r.prev.min
			heap.Fix(h, r.prev.heapIndex)
		}
		if nxt.next != nil {
			nxt.absorbable = nxt.next.max - nxt.min
			heap.Fix(h, nxt.heapIndex)
		} else {
			// nxt became the tail; it can no longer be merged away.
			nxt.absorbable = 0
			if nxt.heapIndex >= 0 {
				heap.Fix(h, nxt.heapIndex)
			}
		}
	}

	var head *linkedRange
	for _, r := range ranges {
		if !r.removed {
			head = r
			break
		}
	}
	out := make([]bucketRange, 0, maxBuckets)
	for r := head; r != nil; r = r.next {
		out = append(out, bucketRange{min: r.min, max: r.max, freq: r.freq})
	}
	return out
}

type linkedRange struct {
	min, max   float64
	freq       int
	absorbable float64
	prev, next *linkedRange
	removed    bool
	heapIndex  int
}

type rangeHeap []*linkedRange

func (h rangeHeap) Len() int { return len(h) }
func (h rangeHeap) Less(i, j int) bool {
	return h[i].absorbable < h[j].absorbable
}
func (h rangeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *rangeHeap) Push(x interface{}) {
	r := x.(*linkedRange)
	r.heapIndex = len(*h)
	*h = append(*h, r)
}
func (h *rangeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	r := old[n-1]
	r.heapIndex = -1
	*h = old[:n-1]
	return r
}

// approximateEqualCount implements spec.md §4.1 step 4: partition the
// sorted unique values into M roughly equal contiguous groups using the
// "distribute remainder" counter so group sizes differ by at most 1.
func approximateEqualCount(unique []valueFreq, maxBuckets int) []bucketRange {
	n := len(unique)
	base := n / maxBuckets
	remainder := n % maxBuckets

	out := make([]bucketRange, 0, maxBuckets)
	idx := 0
	for g := 0; g < maxBuckets && idx < n; g++ {
		size := base
		if g < remainder {
			size++
		}
		if size == 0 {
			continue
		}
		freq := 0
		for k := 0; k < size; k++ {
			freq += unique[idx+k].freq
		}
		out = append(out, bucketRange{
			min:  unique[idx].value,
			max:  unique[idx+size-1].value,
			freq: freq,
		})
		idx += size
	}
	return out
}
