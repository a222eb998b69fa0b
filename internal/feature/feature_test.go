package feature

import (
	"testing"

	"github.com/tealtree/tealtree/internal/bucketize"
)

func buildTable(t *testing.T, vals []float64, maxBuckets int) *bucketize.Table {
	t.Helper()
	tbl, err := bucketize.Build("f", vals, maxBuckets)
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func bucketCodes(tbl *bucketize.Table, vals []float64) []uint64 {
	codes := make([]uint64, len(vals))
	for i, v := range vals {
		codes[i] = uint64(tbl.BucketOf(v))
	}
	return codes
}

func TestDenseRoundTrip(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5, 1, 2, 3}
	tbl := buildTable(t, vals, 16)
	codes := bucketCodes(tbl, vals)
	d := NewDense("f", tbl, vals)
	for i, want := range codes {
		if got := d.Bucket(uint32(i)); got != want {
			t.Fatalf("doc %d: got=%d want=%d", i, got, want)
		}
	}
}

func TestSparseV1MatchesDense(t *testing.T) {
	vals := make([]float64, 200)
	for i := range vals {
		if i%10 == 0 {
			vals[i] = float64(i)
		} else {
			vals[i] = 1 // dominant default value
		}
	}
	tbl := buildTable(t, vals, 16)
	codes := bucketCodes(tbl, vals)

	dense := NewDense("f", tbl, vals)
	sparse := NewSparseV1("f", tbl, codes)

	for i := range vals {
		want := dense.Bucket(uint32(i))
		if got := sparse.Bucket(uint32(i)); got != want {
			t.Fatalf("doc %d: sparse=%d dense=%d", i, got, want)
		}
	}
}

func TestSparseV2MatchesDenseBeforeSplit(t *testing.T) {
	vals := make([]float64, 200)
	for i := range vals {
		if i%10 == 0 {
			vals[i] = float64(i)
		} else {
			vals[i] = 1
		}
	}
	tbl := buildTable(t, vals, 16)
	codes := bucketCodes(tbl, vals)

	dense := NewDense("f", tbl, vals)
	sv2 := NewSparseV2("f", tbl, codes, 0)

	for i := range vals {
		want := dense.Bucket(uint32(i))
		if got := sv2.Bucket(uint32(i)); got != want {
			t.Fatalf("doc %d: sparse_v2=%d dense=%d", i, got, want)
		}
	}
}

func TestSparseV2SplitThenFinalizeRoundTrips(t *testing.T) {
	n := 100
	vals := make([]float64, n)
	for i := range vals {
		if i%7 == 0 {
			vals[i] = float64(i)
		} else {
			vals[i] = 1
		}
	}
	tbl := buildTable(t, vals, 16)
	codes := bucketCodes(tbl, vals)

	const rootID, leftID, rightID = 0, 1, 2
	sv2 := NewSparseV2("f", tbl, codes, rootID)

	// Split the root into evens (left) / odds (right).
	direction := func(relPos int) bool { return relPos%2 == 1 }
	if err := sv2.Split(rootID, n, direction, leftID, rightID); err != nil {
		t.Fatal(err)
	}

	var leftDocs, rightDocs []uint32
	for i := 0; i < n; i++ {
		if direction(i) {
			rightDocs = append(rightDocs, uint32(i))
		} else {
			leftDocs = append(leftDocs, uint32(i))
		}
	}
	leafDocIDs := map[uint32][]uint32{leftID: leftDocs, rightID: rightDocs}

	if err := sv2.FinalizeTree(leafDocIDs, rootID, true); err != nil {
		t.Fatalf("FinalizeTree: %v", err)
	}

	for i := range vals {
		want := uint64(tbl.BucketOf(vals[i]))
		if got := sv2.Bucket(uint32(i)); got != want {
			t.Fatalf("doc %d after finalize: got=%d want=%d", i, got, want)
		}
	}
}

// collectIterateLeaf runs IterateLeaf over docIDs and returns the explicit
// (relPos, code) pairs it reported, keyed by relPos.
func collectIterateLeaf(f Feature, leafID uint32, docIDs []uint32) map[int]uint64 {
	got := make(map[int]uint64)
	f.IterateLeaf(leafID, docIDs, func(relPos int, code uint64) {
		got[relPos] = code
	})
	return got
}

func TestIterateLeafMatchesBucketForAllEncodings(t *testing.T) {
	vals := make([]float64, 200)
	for i := range vals {
		if i%10 == 0 {
			vals[i] = float64(i)
		} else {
			vals[i] = 1 // dominant default value
		}
	}
	tbl := buildTable(t, vals, 16)
	codes := bucketCodes(tbl, vals)

	docIDs := make([]uint32, len(vals))
	for i := range docIDs {
		docIDs[i] = uint32(i)
	}

	for _, f := range []Feature{
		NewDense("f", tbl, vals),
		NewSparseV1("f", tbl, codes),
		NewSparseV2("f", tbl, codes, 0),
	} {
		got := collectIterateLeaf(f, 0, docIDs)
		for i, want := range codes {
			if want == uint64(tbl.DefaultBucket) {
				if _, reported := got[i]; reported {
					t.Fatalf("%T: doc %d: IterateLeaf reported a default-bucket position", f, i)
				}
				continue
			}
			if code, ok := got[i]; !ok || code != want {
				t.Fatalf("%T: doc %d: IterateLeaf=%v (ok=%v) want %d", f, i, code, ok, want)
			}
		}
	}
}

func TestSparseV2IterateLeafReflectsSplitPartition(t *testing.T) {
	n := 100
	vals := make([]float64, n)
	for i := range vals {
		if i%7 == 0 {
			vals[i] = float64(i)
		} else {
			vals[i] = 1
		}
	}
	tbl := buildTable(t, vals, 16)
	codes := bucketCodes(tbl, vals)

	const rootID, leftID, rightID = 0, 1, 2
	sv2 := NewSparseV2("f", tbl, codes, rootID)

	direction := func(relPos int) bool { return relPos%2 == 1 }
	if err := sv2.Split(rootID, n, direction, leftID, rightID); err != nil {
		t.Fatal(err)
	}

	var leftDocs, rightDocs []uint32
	for i := 0; i < n; i++ {
		if direction(i) {
			rightDocs = append(rightDocs, uint32(i))
		} else {
			leftDocs = append(leftDocs, uint32(i))
		}
	}

	checkLeaf := func(leafID uint32, docIDs []uint32) {
		got := collectIterateLeaf(sv2, leafID, docIDs)
		for relPos, doc := range docIDs {
			want := uint64(tbl.BucketOf(vals[doc]))
			if want == uint64(tbl.DefaultBucket) {
				if _, reported := got[relPos]; reported {
					t.Fatalf("leaf %d: relPos %d (doc %d): reported a default-bucket position", leafID, relPos, doc)
				}
				continue
			}
			if code, ok := got[relPos]; !ok || code != want {
				t.Fatalf("leaf %d: relPos %d (doc %d): IterateLeaf=%v (ok=%v) want %d", leafID, relPos, doc, code, ok, want)
			}
		}
	}
	checkLeaf(leftID, leftDocs)
	checkLeaf(rightID, rightDocs)
}

// TestSparseV2RearrangeShardsBoundsBackingGrowth drives enough splits that
// accumulated tail slack crosses compactionSlackFraction, exercising the
// Split -> shouldRearrange -> RearrangeShards path, and checks the stream
// still decodes correctly afterward.
func TestSparseV2RearrangeShardsBoundsBackingGrowth(t *testing.T) {
	n := 256
	vals := make([]float64, n)
	for i := range vals {
		if i%3 == 0 {
			vals[i] = float64(i)
		} else {
			vals[i] = 1
		}
	}
	tbl := buildTable(t, vals, 16)
	codes := bucketCodes(tbl, vals)

	sv2 := NewSparseV2("f", tbl, codes, 0)

	leafDocs := map[uint32][]uint32{0: make([]uint32, n)}
	for i := 0; i < n; i++ {
		leafDocs[0][i] = uint32(i)
	}

	nextID := uint32(1)
	for leaf := uint32(0); leaf < 8; leaf++ {
		docs, ok := leafDocs[leaf]
		if !ok || len(docs) < 2 {
			continue
		}
		direction := func(relPos int) bool { return relPos%2 == 1 }
		left, right := nextID, nextID+1
		nextID += 2
		if err := sv2.Split(leaf, len(docs), direction, left, right); err != nil {
			t.Fatalf("split leaf %d: %v", leaf, err)
		}
		var leftDocs, rightDocs []uint32
		for relPos, doc := range docs {
			if direction(relPos) {
				rightDocs = append(rightDocs, doc)
			} else {
				leftDocs = append(leftDocs, doc)
			}
		}
		delete(leafDocs, leaf)
		leafDocs[left] = leftDocs
		leafDocs[right] = rightDocs
	}

	if err := sv2.FinalizeTree(leafDocs, 0, true); err != nil {
		t.Fatalf("FinalizeTree: %v", err)
	}
	for i := range vals {
		want := uint64(tbl.BucketOf(vals[i]))
		if got := sv2.Bucket(uint32(i)); got != want {
			t.Fatalf("doc %d after finalize: got=%d want=%d", i, got, want)
		}
	}
}

func TestBitsWidthSelection(t *testing.T) {
	cases := []struct {
		numBuckets int
		want       uint
	}{
		{1, 1}, {2, 1}, {3, 2}, {4, 2}, {5, 4}, {16, 4}, {17, 8}, {256, 8}, {257, 16},
	}
	for _, c := range cases {
		if got := Bits(c.numBuckets); got != c.want {
			t.Fatalf("Bits(%d)=%d want %d", c.numBuckets, got, c.want)
		}
	}
}
