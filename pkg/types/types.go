package types

// Record is one opaque payload as it was appended to the log.
type Record = []byte

// SequenceNumber represents a monotonically increasing sequence used to order appended records.
type SequenceNumber uint64

// CycleID identifies one segment of the log. A cursor's cycle never decreases.
type CycleID int64

// NoCycle is reported by cursors that have not reached any segment yet.
const NoCycle CycleID = -1
