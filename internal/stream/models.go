package stream

// ObjectID identifies a stored media object. IDs are opaque single path
// elements generated at upload time (timestamp plus sanitized name).
type ObjectID string

// RangeSpec is a validated byte window within an object of Total bytes.
// Start and End are inclusive offsets with 0 <= Start <= End <= Total-1.
// Request-scoped: recomputed from the Range header on every request.
type RangeSpec struct {
	Start int64
	End   int64
	Total int64
}

// Length returns the number of bytes the window covers.
func (r RangeSpec) Length() int64 {
	return r.End - r.Start + 1
}
