package histogram

import (
	"testing"

	"github.com/tealtree/tealtree/internal/bucketize"
	"github.com/tealtree/tealtree/internal/document"
	"github.com/tealtree/tealtree/internal/feature"
)

func TestSubtractRecoversSiblingHistogram(t *testing.T) {
	vals := make([]float64, 100)
	for i := range vals {
		vals[i] = float64(i % 8)
	}
	tbl, err := bucketize.Build("f", vals, 16)
	if err != nil {
		t.Fatal(err)
	}
	dense := feature.NewDense("f", tbl, vals)

	docs := document.NewSet(100)
	for i := 0; i < 100; i++ {
		d := docs.Append(0, 0)
		d.Gradient = float32(i) * 0.1
		d.Hessian = 1
	}

	var allDocs, leftDocs, rightDocs []uint32
	for i := 0; i < 100; i++ {
		allDocs = append(allDocs, uint32(i))
		if i%2 == 0 {
			leftDocs = append(leftDocs, uint32(i))
		} else {
			rightDocs = append(rightDocs, uint32(i))
		}
	}

	parent := Compute(dense, 0, allDocs, docs, false)
	right := Compute(dense, 0, rightDocs, docs, false)
	left := Compute(dense, 0, leftDocs, docs, false)

	derived := Subtract(parent, right)
	for b := 0; b < tbl.NumBuckets(); b++ {
		if diff := derived.GradSum[b] - left.GradSum[b]; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("bucket %d: derived grad=%v direct=%v", b, derived.GradSum[b], left.GradSum[b])
		}
		if derived.Weight[b] != left.Weight[b] {
			t.Fatalf("bucket %d: derived weight=%v direct=%v", b, derived.Weight[b], left.Weight[b])
		}
	}
}

func TestSumGradientWeight(t *testing.T) {
	h := New(4)
	h.Add(0, 1, 2)
	h.Add(1, 3, 4)
	grad, weight := h.SumGradientWeight()
	if grad != 4 || weight != 6 {
		t.Fatalf("got grad=%v weight=%v want 4,6", grad, weight)
	}
}
