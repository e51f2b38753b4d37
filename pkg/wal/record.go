package wal

import (
	"encoding/binary"
	"hash/crc32"
)

// headerSize is len(payload) uint32 LE followed by crc32c(payload) uint32 LE.
const headerSize = 8

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// encodeRecord frames a payload so that it can be written with a single Write.
func encodeRecord(payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.Checksum(payload, castagnoli))
	copy(buf[headerSize:], payload)
	return buf
}

func decodeHeader(hdr []byte) (size uint32, sum uint32) {
	return binary.LittleEndian.Uint32(hdr[0:4]), binary.LittleEndian.Uint32(hdr[4:8])
}

func validChecksum(payload []byte, sum uint32) bool {
	return crc32.Checksum(payload, castagnoli) == sum
}
