package native

import (
	"encoding/binary"
	"math"
)

// EntrySize is the byte size of one encoded sparse entry: a uint32 feature
// index followed by a float32 value, matching the native SparseEntry layout.
const EntrySize = 8

// EntriesLen is the byte length needed to encode n entries.
func EntriesLen(n int) int {
	return n * EntrySize
}

// PutEntry writes entry i of buf.
func PutEntry(buf []byte, i int, index uint32, value float32) {
	off := i * EntrySize
	binary.LittleEndian.PutUint32(buf[off:], index)
	binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(value))
}

// GetEntry reads entry i of buf.
func GetEntry(buf []byte, i int) (index uint32, value float32) {
	off := i * EntrySize
	index = binary.LittleEndian.Uint32(buf[off:])
	value = math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4:]))
	return index, value
}

// IsMissing reports whether v equals the missing sentinel. A NaN sentinel
// matches every NaN.
func IsMissing(v, missing float32) bool {
	if missing != missing {
		return v != v
	}
	return v == missing
}
