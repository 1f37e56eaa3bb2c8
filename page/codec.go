package page

import (
	"encoding/binary"
	"errors"

	"github.com/pbeaman/persistit-sub015/util"
)

// Every page except the volume header (page 0) begins with a fixed 32-byte
// header, big-endian:
//
//	off  0 (8) checksum: xxhash64 of bytes [8, pageSize)
//	off  8 (1) page type
//	off  9 (1) flags
//	off 12 (4) entry/record count
//	off 16 (8) right sibling page address, 0 = none
//	off 24 (8) generation
//	off 32     payload
const (
	HeaderSize = 32

	offChecksum   = 0
	offType       = 8
	offFlags      = 9
	offCount      = 12
	offRightSib   = 16
	offGeneration = 24
)

// FlagCodecLZ4 selects lz4 instead of snappy for a long-record chain. It is
// meaningful only on the head page of the chain.
const FlagCodecLZ4 = 0x01

// ErrChecksumMismatch is returned when a page read from storage fails
// checksum verification.
var ErrChecksumMismatch = errors.New("page checksum mismatch")

// TypeOf returns the type recorded in the page header.
func TypeOf(b []byte) Type {
	return Type(b[offType])
}

// SetType records the page type.
func SetType(b []byte, t Type) {
	b[offType] = byte(t)
}

// Flags returns the page flag byte.
func Flags(b []byte) byte {
	return b[offFlags]
}

// SetFlags records the page flag byte.
func SetFlags(b []byte, f byte) {
	b[offFlags] = f
}

// Count returns the entry or record count.
func Count(b []byte) int {
	return int(binary.BigEndian.Uint32(b[offCount:]))
}

func setCount(b []byte, n int) {
	binary.BigEndian.PutUint32(b[offCount:], uint32(n))
}

// RightSibling returns the right-sibling page address, 0 when there is none.
func RightSibling(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b[offRightSib:]))
}

// SetRightSibling records the right-sibling page address.
func SetRightSibling(b []byte, addr int64) {
	binary.BigEndian.PutUint64(b[offRightSib:], uint64(addr))
}

// Generation returns the page generation counter.
func Generation(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b[offGeneration:]))
}

// SetGeneration records the page generation counter.
func SetGeneration(b []byte, g int64) {
	binary.BigEndian.PutUint64(b[offGeneration:], uint64(g))
}

// Reset clears the whole page, leaving it Unallocated.
func Reset(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// StampChecksum computes and stores the checksum over the page body.
func StampChecksum(b []byte) {
	binary.BigEndian.PutUint64(b[offChecksum:], util.HashCode(b[offType:]))
}

// VerifyChecksum reports whether the stored checksum matches the page body.
func VerifyChecksum(b []byte) bool {
	return binary.BigEndian.Uint64(b[offChecksum:]) == util.HashCode(b[offType:])
}
