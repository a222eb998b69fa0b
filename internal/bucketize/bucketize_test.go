package bucketize

import (
	"math/rand"
	"testing"
)

func TestOneBucketPerValueWhenUnderBudget(t *testing.T) {
	vals := []float64{5, 1, 3, 1, 5, 3, 7}
	tbl, err := Build("f", vals, 16)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.NumBuckets() != 4 { // distinct: 1,3,5,7
		t.Fatalf("got %d buckets, want 4", tbl.NumBuckets())
	}
	for i, want := range []float64{1, 3, 5, 7} {
		if tbl.Min[i] != want {
			t.Fatalf("bucket %d min=%v want %v", i, tbl.Min[i], want)
		}
	}
}

func TestEmptyColumnFails(t *testing.T) {
	_, err := Build("f", nil, 16)
	if err == nil {
		t.Fatal("expected BucketizeError for empty column")
	}
}

func TestExactGreedyMergeProducesExactlyMaxBuckets(t *testing.T) {
	vals := make([]float64, 0, 100)
	for i := 0; i < 100; i++ {
		vals = append(vals, float64(i))
	}
	maxBuckets := 64 // U=100: 64 < 100 < 2*64, so this takes the exact greedy merge path.
	tbl, err := Build("f", vals, maxBuckets)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.NumBuckets() != maxBuckets {
		t.Fatalf("got %d buckets, want %d", tbl.NumBuckets(), maxBuckets)
	}
}

func TestExactGreedyMergeRange(t *testing.T) {
	// U=30, maxBuckets=16: 30 < 2*16=32, so this exercises the exact
	// greedy merge path specifically.
	vals := make([]float64, 0, 30)
	for i := 0; i < 30; i++ {
		vals = append(vals, float64(i))
	}
	maxBuckets := 16
	tbl, err := Build("f", vals, maxBuckets)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.NumBuckets() != maxBuckets {
		t.Fatalf("got %d buckets, want %d", tbl.NumBuckets(), maxBuckets)
	}
	// Bucket mins must be strictly increasing.
	for i := 1; i < len(tbl.Min); i++ {
		if tbl.Min[i] <= tbl.Min[i-1] {
			t.Fatalf("bucket mins not strictly increasing at %d: %v <= %v", i, tbl.Min[i], tbl.Min[i-1])
		}
	}
}

func TestApproximateEqualCountBucketCount(t *testing.T) {
	vals := make([]float64, 0, 10000)
	for i := 0; i < 10000; i++ {
		vals = append(vals, float64(i))
	}
	maxBuckets := 256
	tbl, err := Build("f", vals, maxBuckets)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.NumBuckets() != maxBuckets {
		t.Fatalf("got %d buckets, want %d", tbl.NumBuckets(), maxBuckets)
	}
}

func TestBucketOfCoversFullRange(t *testing.T) {
	vals := []float64{0, 10, 20, 30, 40}
	tbl, err := Build("f", vals, 16)
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		v    float64
		want int
	}{
		{-5, 0}, {0, 0}, {5, 0}, {10, 1}, {19, 1}, {20, 2}, {40, 4}, {1000, 4},
	}
	for _, c := range cases {
		if got := tbl.BucketOf(c.v); got != c.want {
			t.Fatalf("BucketOf(%v)=%d want %d", c.v, got, c.want)
		}
	}
}

func TestEveryRawValueMapsToAValidBucket(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	vals := make([]float64, 5000)
	for i := range vals {
		vals[i] = float64(r.Intn(3000))
	}
	tbl, err := Build("f", vals, 64)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range vals {
		b := tbl.BucketOf(v)
		if b < 0 || b >= tbl.NumBuckets() {
			t.Fatalf("value %v mapped to out-of-range bucket %d (of %d)", v, b, tbl.NumBuckets())
		}
	}
}

func TestDefaultBucketIsHighestFrequency(t *testing.T) {
	vals := []float64{1, 1, 1, 1, 2, 3}
	tbl, err := Build("f", vals, 16)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Min[tbl.DefaultBucket] != 1 {
		t.Fatalf("default bucket min=%v want 1", tbl.Min[tbl.DefaultBucket])
	}
}

func TestSparsityComputation(t *testing.T) {
	vals := []float64{1, 1, 1, 1, 2, 3} // 4/6 in default bucket
	tbl, err := Build("f", vals, 16)
	if err != nil {
		t.Fatal(err)
	}
	want := 1 - 4.0/6.0
	if diff := tbl.Sparsity - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("sparsity=%v want %v", tbl.Sparsity, want)
	}
}
