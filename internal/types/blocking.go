package types

// BlockingKey identifies one (extension, title, range_start, range_unit)
// partition. RangeUnit of "" groups files with no captured unit together,
// distinct from any named unit.
type BlockingKey struct {
	Extension       string
	SeriesTitleNorm string
	RangeStart      uint32
	RangeUnit       string
}

// BlockingGroup is one partition with at least two members, all sharing
// Key, all with Confidence >= parser.MinConfidenceForBlocking, all with
// HasPrimary set (a first captured segment, of any kind).
type BlockingGroup struct {
	Key       BlockingKey
	MemberIDs []uint64
}
