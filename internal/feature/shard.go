package feature

// Shard is one contiguous sub-range of a sparse v2 feature's value/offset
// streams, corresponding to exactly one currently-live tree leaf, per
// spec.md §4.4.
//
// VPtr addresses the value stream in codes (no tail is kept between
// value-stream shards; they are always packed contiguously). OPtr/OLen
// address the offset stream in bytes, followed by Tail reserved empty
// bytes before the next shard begins — the invariant
// shards[i+1].OPtr == shards[i].OPtr + shards[i].OLen + shards[i].Tail
// holds for every adjacent pair.
type Shard struct {
	VPtr  int
	OPtr  int
	OLen  int
	Count int
	Tail  int
}

// end returns the byte offset immediately after this shard's reserved
// tail, i.e. where the next shard (if any) must begin.
func (s Shard) end() int { return s.OPtr + s.OLen + s.Tail }

// valueEnd returns the code offset immediately after this shard's values.
func (s Shard) valueEnd() int { return s.VPtr + s.Count }
