package pebblelog

import (
	"bytes"
	"encoding/binary"

	"replaylog/pkg/types"
)

// Keys are laid out as "c/" | cycle (8 bytes BE) | "/" | seq (8 bytes BE) so
// that records sort by cycle, then by append order.
const (
	sep       = '/'
	prefixLen = 2
	keyLen    = prefixLen + 8 + 1 + 8
)

var logPrefix = []byte{'c', sep}

// logUpper is the exclusive upper bound of every record key.
var logUpper = []byte{'c', sep + 1}

func segmentPrefix(cycle types.CycleID) []byte {
	k := make([]byte, 0, prefixLen+8+1)
	k = append(k, logPrefix...)
	k = binary.BigEndian.AppendUint64(k, uint64(cycle))
	return append(k, sep)
}

// segmentUpper is the exclusive upper bound of the keys of one cycle.
func segmentUpper(cycle types.CycleID) []byte {
	k := segmentPrefix(cycle)
	k[len(k)-1] = sep + 1
	return k
}

func recordKey(cycle types.CycleID, seq types.SequenceNumber) []byte {
	return binary.BigEndian.AppendUint64(segmentPrefix(cycle), uint64(seq))
}

func decodeKey(k []byte) (types.CycleID, types.SequenceNumber, bool) {
	if len(k) != keyLen || !bytes.HasPrefix(k, logPrefix) || k[prefixLen+8] != sep {
		return 0, 0, false
	}
	cycle := binary.BigEndian.Uint64(k[prefixLen : prefixLen+8])
	seq := binary.BigEndian.Uint64(k[prefixLen+9:])
	return types.CycleID(cycle), types.SequenceNumber(seq), true
}

// successor is the smallest key strictly greater than k.
func successor(k []byte) []byte {
	out := make([]byte, len(k)+1)
	copy(out, k)
	return out
}
