package page

import "encoding/binary"

// Solitaire is the Right value of a chain entry that names a single page.
const Solitaire int64 = -1

// ChainEntry names a freed page or run of pages. Right == Solitaire marks a
// single page; Right == 0 marks a sibling-linked run that terminates at the
// natural end of the chain; Right > 0 is the exclusive end page of the run.
// Page 0 is the volume header and never enters a chain, so 0 is unambiguous.
type ChainEntry struct {
	Left  int64
	Right int64
}

// IsSolitaire reports whether the entry names exactly one page.
func (e ChainEntry) IsSolitaire() bool {
	return e.Right == Solitaire
}

const chainEntrySize = 16

// GarbageCapacity returns the number of chain entries a garbage page of the
// given size can hold.
func GarbageCapacity(pageSize int) int {
	return (pageSize - HeaderSize) / chainEntrySize
}

// InitGarbagePage reinitializes b as an empty Garbage page.
func InitGarbagePage(b []byte) {
	Reset(b)
	SetType(b, TypeGarbage)
}

// GarbageEntries decodes the chain entries recorded in a garbage page.
func GarbageEntries(b []byte) []ChainEntry {
	n := Count(b)
	entries := make([]ChainEntry, 0, n)
	for i := 0; i < n; i++ {
		off := HeaderSize + i*chainEntrySize
		entries = append(entries, ChainEntry{
			Left:  int64(binary.BigEndian.Uint64(b[off:])),
			Right: int64(binary.BigEndian.Uint64(b[off+8:])),
		})
	}
	return entries
}

// WriteGarbageEntries replaces the chain entries recorded in a garbage page.
// The caller must not exceed GarbageCapacity.
func WriteGarbageEntries(b []byte, entries []ChainEntry) {
	for i, e := range entries {
		off := HeaderSize + i*chainEntrySize
		binary.BigEndian.PutUint64(b[off:], uint64(e.Left))
		binary.BigEndian.PutUint64(b[off+8:], uint64(e.Right))
	}
	setCount(b, len(entries))
}

// AppendGarbageEntry appends a chain entry, reporting false when the page
// is full.
func AppendGarbageEntry(b []byte, e ChainEntry) bool {
	n := Count(b)
	if n >= GarbageCapacity(len(b)) {
		return false
	}
	off := HeaderSize + n*chainEntrySize
	binary.BigEndian.PutUint64(b[off:], uint64(e.Left))
	binary.BigEndian.PutUint64(b[off+8:], uint64(e.Right))
	setCount(b, n+1)
	return true
}
