package feature

import (
	"container/heap"
	"crypto/md5"
	"encoding/binary"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tealtree/tealtree/internal/bitvec"
	"github.com/tealtree/tealtree/internal/bucketize"
	"github.com/tealtree/tealtree/internal/ttlog"
	"github.com/tealtree/tealtree/internal/varint"
)

// defaultInitialTailFraction and defaultFixedTailBytes mirror
// original_source/src/fast_sparse_feature.cpp's reserve:
// max(fixedTail, fraction*streamSize). The fraction is fixed at 0.1;
// the --initial_tail_size option is not consulted.
const (
	defaultInitialTailFraction = 0.1
	defaultFixedTailBytes      = 64
)

// SparseV2 is the sharded sparse feature encoding used during active tree
// growth (spec.md §4.4): the same default-value-plus-explicit-stream
// layout as SparseV1, but partitioned into per-leaf Shards so a split
// only rewrites the leaf being split, not the whole stream.
type SparseV2 struct {
	name    string
	table   *bucketize.Table
	numDocs int
	bits    uint

	values  *bitvec.Vector
	offsets []byte

	shards      []Shard
	leafToShard map[uint32]int

	initialMD5 [16]byte
}

// NewSparseV2 builds the sharded encoding from per-document bucket codes,
// initializing a single root shard spanning the whole explicit stream
// plus a reserve tail, and records the pre-training MD5 digest used by
// FinalizeTree's round-trip check.
func NewSparseV2(name string, table *bucketize.Table, bucketCodes []uint64, rootLeafID uint32) *SparseV2 {
	defaultValue := uint64(table.DefaultBucket)
	bits := Bits(table.NumBuckets())

	var explicitDocs []uint32
	var explicitVals []uint64
	for doc, code := range bucketCodes {
		if code != defaultValue {
			explicitDocs = append(explicitDocs, uint32(doc))
			explicitVals = append(explicitVals, code)
		}
	}

	values := bitvec.New(bits, len(explicitVals))
	vw := bitvec.NewWriter(values, 0)
	ow := varint.NewInitialWriter(nil)
	prev := uint32(0)
	for i, doc := range explicitDocs {
		vw.PushBack(explicitVals[i])
		delta := doc - prev
		ow.Write(delta)
		prev = doc
	}
	vw.Flush()
	offsets := ow.Bytes()

	tail := initialTail(len(offsets))
	// Grow backing stores to make room for the root shard's reserve tail
	// up front (codes grow implicitly via growValues when needed; the
	// byte buffer needs the tail physically present).
	offsets = append(offsets, make([]byte, tail)...)

	sm := &SparseV2{
		name:        name,
		table:       table,
		numDocs:     len(bucketCodes),
		bits:        bits,
		values:      values,
		offsets:     offsets,
		leafToShard: map[uint32]int{rootLeafID: 0},
		initialMD5:  streamMD5(explicitDocs, explicitVals),
	}
	sm.shards = []Shard{{VPtr: 0, OPtr: 0, OLen: len(offsets) - tail, Count: len(explicitDocs), Tail: tail}}
	return sm
}

func initialTail(streamLen int) int {
	frac := int(float64(streamLen) * defaultInitialTailFraction)
	if frac > defaultFixedTailBytes {
		return frac
	}
	return defaultFixedTailBytes
}

func streamMD5(docs []uint32, vals []uint64) [16]byte {
	h := md5.New()
	buf := make([]byte, 12)
	for i := range docs {
		binary.LittleEndian.PutUint32(buf[0:4], docs[i])
		binary.LittleEndian.PutUint64(buf[4:12], vals[i])
		h.Write(buf)
	}
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (s *SparseV2) Name() string            { return s.name }
func (s *SparseV2) Table() *bucketize.Table { return s.table }
func (s *SparseV2) NumDocs() int            { return s.numDocs }

// Bucket returns the bucket code for a global doc id. It is only valid
// before the first Split (i.e. while the root shard's relative positions
// still coincide with global doc ids) — used for testing and for feeding
// Dense/SparseV1 parity checks against a freshly bucketized column. Once
// splits have partitioned the stream, per-leaf traversal must go through
// decodeShard plus the leaf's own doc-id list instead.
func (s *SparseV2) Bucket(doc uint32) uint64 {
	for _, sh := range s.shards {
		found, code := s.findInShard(sh, doc)
		if found {
			return code
		}
	}
	return uint64(s.table.DefaultBucket)
}

func (s *SparseV2) findInShard(sh Shard, targetRelPos uint32) (bool, uint64) {
	it := varint.NewIterator(s.offsets[:sh.OPtr+sh.OLen], sh.OPtr)
	vit := bitvec.NewIterator(s.values, sh.VPtr)
	var relPos uint32
	for i := 0; i < sh.Count; i++ {
		relPos += it.Next()
		code := vit.Next()
		if relPos == targetRelPos {
			return true, code
		}
	}
	return false, 0
}

// IterateLeaf decodes leafID's own shard directly, reporting each
// explicit entry's (relPos, code) without touching any other leaf's
// shard or rescanning the column — the O(leaf) traversal spec.md §4.4's
// sharding exists to provide.
func (s *SparseV2) IterateLeaf(leafID uint32, docIDs []uint32, visit func(relPos int, code uint64)) {
	shardIdx, ok := s.leafToShard[leafID]
	if !ok {
		return
	}
	for _, e := range decodeShard(s.offsets, s.values, s.shards[shardIdx]) {
		if e.relPos < len(docIDs) {
			visit(e.relPos, e.code)
		}
	}
}

// decodedEntry is one explicit (relative position, bucket code) pair
// decoded from a shard's streams.
type decodedEntry struct {
	relPos int
	code   uint64
}

func decodeShard(offsets []byte, values *bitvec.Vector, sh Shard) []decodedEntry {
	out := make([]decodedEntry, 0, sh.Count)
	it := varint.NewIterator(offsets, sh.OPtr)
	vit := bitvec.NewIterator(values, sh.VPtr)
	pos := 0
	for i := 0; i < sh.Count; i++ {
		pos += int(it.Next())
		out = append(out, decodedEntry{relPos: pos, code: vit.Next()})
	}
	return out
}

// Split partitions leafID's shard into two child shards. nLeafDocs is the
// total number of documents (explicit and default) the leaf holds;
// direction(relPos) reports true if the document at relative position
// relPos (0-based, in the leaf's own doc-id list order) goes right.
// leftLeafID conventionally retains the shard slot in place (the "left /
// retained id" convention from spec.md §4.4); rightLeafID gets a freshly
// appended shard.
func (s *SparseV2) Split(leafID uint32, nLeafDocs int, direction func(relPos int) bool, leftLeafID, rightLeafID uint32) error {
	shardIdx, ok := s.leafToShard[leafID]
	if !ok {
		return errors.Errorf("sparse feature %q: no shard for leaf %d", s.name, leafID)
	}
	sh := s.shards[shardIdx]
	entries := decodeShard(s.offsets, s.values, sh)

	leftCount, rightCount := 0, 0
	var leftVals, rightVals []uint64
	var leftPos, rightPos []int

	ei := 0
	for relPos := 0; relPos < nLeafDocs; relPos++ {
		explicit := ei < len(entries) && entries[ei].relPos == relPos
		var code uint64
		if explicit {
			code = entries[ei].code
		}
		goesRight := direction(relPos)
		if goesRight {
			if explicit {
				rightVals = append(rightVals, code)
				rightPos = append(rightPos, rightCount)
			}
			rightCount++
		} else {
			if explicit {
				leftVals = append(leftVals, code)
				leftPos = append(leftPos, leftCount)
			}
			leftCount++
		}
		if explicit {
			ei++
		}
	}

	leftOffsets, leftCodes := encodeRelative(leftPos, leftVals)
	rightOffsets, rightCodes := encodeRelative(rightPos, rightVals)

	s.placeInPlace(shardIdx, leftOffsets, leftCodes)
	delete(s.leafToShard, leafID)
	s.leafToShard[leftLeafID] = shardIdx

	newIdx := s.appendShard(rightOffsets, rightCodes)
	s.leafToShard[rightLeafID] = newIdx

	if s.shouldRearrange() {
		s.RearrangeShards()
	}
	return nil
}

// compactionSlackFraction triggers a RearrangeShards pass once reclaimable
// tail slack reaches this fraction of the offset buffer. appendShard always
// grows the buffer rather than hunting for freed space (see its doc
// comment), so without this check the buffer would grow unboundedly over a
// long tree; this bounds it to a single compacting pass per doubling of
// slack instead of spec.md §4.4's per-split "walk outward" search.
const compactionSlackFraction = 0.5

func (s *SparseV2) shouldRearrange() bool {
	if len(s.offsets) == 0 {
		return false
	}
	var tail int
	for _, sh := range s.shards {
		tail += sh.Tail
	}
	return float64(tail) > compactionSlackFraction*float64(len(s.offsets))
}

// encodeRelative delta-encodes a strictly increasing relative-position
// sequence (positions within a child's own doc-id list) and returns the
// matching code values as a plain slice ready for placement.
func encodeRelative(positions []int, codes []uint64) ([]byte, []uint64) {
	w := varint.NewInitialWriter(nil)
	prev := 0
	for _, p := range positions {
		w.Write(uint32(p - prev))
		prev = p
	}
	return w.Bytes(), codes
}

// placeInPlace overwrites shardIdx's value/offset range with a new,
// smaller (or equal) encoded stream, freeing the difference as Tail.
func (s *SparseV2) placeInPlace(shardIdx int, encodedOffsets []byte, codes []uint64) {
	sh := s.shards[shardIdx]
	s.growValues(sh.VPtr + len(codes))
	for i, c := range codes {
		s.values.Set(sh.VPtr+i, c)
	}
	copy(s.offsets[sh.OPtr:], encodedOffsets)
	freed := sh.OLen - len(encodedOffsets)
	if freed < 0 {
		freed = 0
	}
	s.shards[shardIdx] = Shard{
		VPtr:  sh.VPtr,
		OPtr:  sh.OPtr,
		OLen:  len(encodedOffsets),
		Count: len(codes),
		Tail:  sh.Tail + freed,
	}
}

// appendShard writes a brand new shard at the end of the currently used
// range, growing the backing buffers as needed, and returns its index.
// This is a deliberate simplification of spec.md §4.4's "seek space by
// walking outward" rearrange algorithm: rather than hunting for freed
// space among existing shards' tails, new shards always grow the stream;
// Split calls RearrangeShards once accumulated slack crosses
// compactionSlackFraction to bound how far that simplification can bloat
// the backing buffer.
func (s *SparseV2) appendShard(encodedOffsets []byte, codes []uint64) int {
	last := s.shards[len(s.shards)-1]
	vStart := last.valueEnd()
	oStart := last.end()

	s.growValues(vStart + len(codes))
	for i, c := range codes {
		s.values.Set(vStart+i, c)
	}

	needed := oStart + len(encodedOffsets)
	if needed > len(s.offsets) {
		s.offsets = append(s.offsets, make([]byte, needed-len(s.offsets))...)
	}
	copy(s.offsets[oStart:oStart+len(encodedOffsets)], encodedOffsets)

	tail := initialTail(len(encodedOffsets))
	needed = oStart + len(encodedOffsets) + tail
	if needed > len(s.offsets) {
		s.offsets = append(s.offsets, make([]byte, needed-len(s.offsets))...)
	}

	sh := Shard{VPtr: vStart, OPtr: oStart, OLen: len(encodedOffsets), Count: len(codes), Tail: tail}
	s.shards = append(s.shards, sh)
	return len(s.shards) - 1
}

func (s *SparseV2) growValues(minCodes int) {
	if s.values.Len() >= minCodes {
		return
	}
	grown := bitvec.New(s.bits, minCodes)
	if s.values.Len() > 0 {
		bitvec.Copy(grown, s.values, 0, 0, s.values.Len())
	}
	s.values = grown
}

// RearrangeShards compacts every shard's tail down to a fresh
// initial-tail sizing, repacking the offset stream contiguously. This
// collapses spec.md §4.4's per-split "walk outward, shift the cheaper
// side" search into a single linear compaction; see DESIGN.md for the
// rationale.
func (s *SparseV2) RearrangeShards() {
	type rebuilt struct {
		leafID uint32
		sh     Shard
	}
	shardToLeaf := make(map[int]uint32, len(s.leafToShard))
	for leaf, idx := range s.leafToShard {
		shardToLeaf[idx] = leaf
	}

	newOffsets := make([]byte, 0, len(s.offsets))
	newValues := bitvec.New(s.bits, s.values.Len())
	vw := bitvec.NewWriter(newValues, 0)

	rebuiltShards := make([]rebuilt, 0, len(s.shards))
	vPos := 0
	for idx, sh := range s.shards {
		oStart := len(newOffsets)
		newOffsets = append(newOffsets, s.offsets[sh.OPtr:sh.OPtr+sh.OLen]...)
		for i := 0; i < sh.Count; i++ {
			vw.PushBack(s.values.Get(sh.VPtr + i))
		}
		tail := initialTail(sh.OLen)
		newOffsets = append(newOffsets, make([]byte, tail)...)

		rebuiltShards = append(rebuiltShards, rebuilt{
			leafID: shardToLeaf[idx],
			sh:     Shard{VPtr: vPos, OPtr: oStart, OLen: sh.OLen, Count: sh.Count, Tail: tail},
		})
		vPos += sh.Count
	}
	vw.Flush()

	s.offsets = newOffsets
	s.values = newValues
	s.shards = s.shards[:0]
	s.leafToShard = make(map[uint32]int, len(rebuiltShards))
	for i, r := range rebuiltShards {
		s.shards = append(s.shards, r.sh)
		s.leafToShard[r.leafID] = i
	}

	ttlog.Get().Debug("rearranged sparse feature shards",
		zap.String("feature", s.name),
		zap.Int("shards", len(s.shards)),
	)
}

// mergeCursor walks one shard's explicit entries, resolving each relative
// position to a global doc id via that leaf's doc-id list.
type mergeCursor struct {
	docIDs  []uint32
	entries []decodedEntry
	i       int
}

func (c *mergeCursor) done() bool { return c.i >= len(c.entries) }
func (c *mergeCursor) globalDoc() uint32 {
	return c.docIDs[c.entries[c.i].relPos]
}
func (c *mergeCursor) code() uint64 { return c.entries[c.i].code }

type cursorHeap []*mergeCursor

func (h cursorHeap) Len() int            { return len(h) }
func (h cursorHeap) Less(i, j int) bool  { return h[i].globalDoc() < h[j].globalDoc() }
func (h cursorHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x interface{}) { *h = append(*h, x.(*mergeCursor)) }
func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// FinalizeTree merges every live leaf's shard back into a single stream
// ordered by original global doc id, per spec.md §4.4's end-of-tree
// consolidation, then resets the shard table to one root shard and
// verifies (debug mode) that the merged stream's MD5 matches the one
// recorded at construction time — the documents haven't changed, only
// the leaf partitioning that produced them has, so the explicit stream
// content must round-trip exactly.
func (s *SparseV2) FinalizeTree(leafDocIDs map[uint32][]uint32, rootLeafID uint32, debugCheck bool) error {
	h := &cursorHeap{}
	heap.Init(h)
	for leaf, idx := range s.leafToShard {
		docIDs, ok := leafDocIDs[leaf]
		if !ok {
			return errors.Errorf("sparse feature %q: missing doc list for live leaf %d", s.name, leaf)
		}
		entries := decodeShard(s.offsets, s.values, s.shards[idx])
		if len(entries) == 0 {
			continue
		}
		heap.Push(h, &mergeCursor{docIDs: docIDs, entries: entries})
	}

	var mergedDocs []uint32
	var mergedVals []uint64
	for h.Len() > 0 {
		c := (*h)[0]
		mergedDocs = append(mergedDocs, c.globalDoc())
		mergedVals = append(mergedVals, c.code())
		c.i++
		if c.done() {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
	}

	if debugCheck {
		got := streamMD5(mergedDocs, mergedVals)
		if got != s.initialMD5 {
			return errors.Errorf("sparse feature %q: finalize-tree MD5 mismatch (shard bookkeeping corrupted the stream)", s.name)
		}
	}

	values := bitvec.New(s.bits, len(mergedVals))
	vw := bitvec.NewWriter(values, 0)
	ow := varint.NewInitialWriter(nil)
	prev := uint32(0)
	for i, doc := range mergedDocs {
		vw.PushBack(mergedVals[i])
		ow.Write(doc - prev)
		prev = doc
	}
	vw.Flush()
	offsets := ow.Bytes()
	tail := initialTail(len(offsets))
	offsets = append(offsets, make([]byte, tail)...)

	s.values = values
	s.offsets = offsets
	s.shards = []Shard{{VPtr: 0, OPtr: 0, OLen: len(offsets) - tail, Count: len(mergedDocs), Tail: tail}}
	s.leafToShard = map[uint32]int{rootLeafID: 0}
	return nil
}
