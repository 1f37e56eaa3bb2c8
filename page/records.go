package page

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Record flags.
const (
	RecordNormal    = 0
	RecordLowGuard  = 1
	RecordHighGuard = 2
)

// ErrPageOverflow is returned when an encoded record set does not fit in
// one page.
var ErrPageOverflow = errors.New("records do not fit in page")

// ErrBadRecord is returned when a data page's record area cannot be decoded.
var ErrBadRecord = errors.New("malformed data page record")

// Record is one key/value entry on a Data page. A record whose LongRecord
// flag is set stores an 8-byte long-record chain head address as its value.
//
// Encoded form, appended sequentially after the page header:
//
//	flag(1) keyLen(2) key valueFlag(1) valueLen(4) value
type Record struct {
	Flag       byte
	Key        []byte
	LongRecord bool
	Value      []byte
}

// InitDataPage initializes b as an empty Data page holding only the low and
// high guard records.
func InitDataPage(b []byte) {
	Reset(b)
	SetType(b, TypeData)
	guards := []Record{
		{Flag: RecordLowGuard},
		{Flag: RecordHighGuard},
	}
	// Two guard records always fit.
	_ = WriteRecords(b, guards)
}

// ReadRecords decodes all records on a Data page, guards included, in
// stored order.
func ReadRecords(b []byte) ([]Record, error) {
	n := Count(b)
	recs := make([]Record, 0, n)
	off := HeaderSize
	for i := 0; i < n; i++ {
		if off+3 > len(b) {
			return nil, ErrBadRecord
		}
		r := Record{Flag: b[off]}
		off++
		keyLen := int(binary.BigEndian.Uint16(b[off:]))
		off += 2
		if off+keyLen+5 > len(b) {
			return nil, ErrBadRecord
		}
		r.Key = append([]byte(nil), b[off:off+keyLen]...)
		off += keyLen
		r.LongRecord = b[off] != 0
		off++
		valLen := int(binary.BigEndian.Uint32(b[off:]))
		off += 4
		if off+valLen > len(b) {
			return nil, ErrBadRecord
		}
		r.Value = append([]byte(nil), b[off:off+valLen]...)
		off += valLen
		recs = append(recs, r)
	}
	return recs, nil
}

// WriteRecords replaces the record area of a Data page. Records must already
// be in key order between the guards.
func WriteRecords(b []byte, recs []Record) error {
	need := HeaderSize
	for _, r := range recs {
		need += 1 + 2 + len(r.Key) + 1 + 4 + len(r.Value)
	}
	if need > len(b) {
		return ErrPageOverflow
	}

	off := HeaderSize
	for _, r := range recs {
		b[off] = r.Flag
		off++
		binary.BigEndian.PutUint16(b[off:], uint16(len(r.Key)))
		off += 2
		copy(b[off:], r.Key)
		off += len(r.Key)
		if r.LongRecord {
			b[off] = 1
		} else {
			b[off] = 0
		}
		off++
		binary.BigEndian.PutUint32(b[off:], uint32(len(r.Value)))
		off += 4
		copy(b[off:], r.Value)
		off += len(r.Value)
	}
	// Clear the tail so stale records never decode.
	for i := off; i < len(b); i++ {
		b[i] = 0
	}
	setCount(b, len(recs))
	return nil
}

// FindRecord returns the normal record with the given key, or nil.
func FindRecord(recs []Record, key []byte) *Record {
	for i := range recs {
		if recs[i].Flag == RecordNormal && bytes.Equal(recs[i].Key, key) {
			return &recs[i]
		}
	}
	return nil
}

// InsertRecord inserts or replaces a normal record, keeping key order
// between the guards.
func InsertRecord(recs []Record, r Record) []Record {
	out := make([]Record, 0, len(recs)+1)
	inserted := false
	for _, cur := range recs {
		if !inserted && cur.Flag == RecordNormal {
			switch bytes.Compare(r.Key, cur.Key) {
			case 0:
				out = append(out, r)
				inserted = true
				continue
			case -1:
				out = append(out, r)
				inserted = true
			}
		}
		if !inserted && cur.Flag == RecordHighGuard {
			out = append(out, r)
			inserted = true
		}
		out = append(out, cur)
	}
	if !inserted {
		out = append(out, r)
	}
	return out
}

// DeleteRecord removes the normal record with the given key, reporting
// whether it was present.
func DeleteRecord(recs []Record, key []byte) ([]Record, bool) {
	out := make([]Record, 0, len(recs))
	found := false
	for _, cur := range recs {
		if cur.Flag == RecordNormal && bytes.Equal(cur.Key, key) {
			found = true
			continue
		}
		out = append(out, cur)
	}
	return out, found
}

// Index page payload: the leftmost child address occupies the first 8 bytes.
// Key/pointer pairs beyond it belong to the tree layer.

// LeftmostChild returns the leftmost child address of an Index page.
func LeftmostChild(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b[HeaderSize:]))
}

// SetLeftmostChild records the leftmost child address of an Index page.
func SetLeftmostChild(b []byte, addr int64) {
	binary.BigEndian.PutUint64(b[HeaderSize:], uint64(addr))
}

// LongRecord page payload: segment length followed by the raw segment bytes.

const lrSegmentOff = HeaderSize + 4

// LongRecordSegmentCapacity returns the segment bytes one LongRecord page
// can hold.
func LongRecordSegmentCapacity(pageSize int) int {
	return pageSize - lrSegmentOff
}

// SetLongRecordSegment stores a segment on a LongRecord page, reporting
// false when it does not fit.
func SetLongRecordSegment(b []byte, seg []byte) bool {
	if len(seg) > LongRecordSegmentCapacity(len(b)) {
		return false
	}
	binary.BigEndian.PutUint32(b[HeaderSize:], uint32(len(seg)))
	copy(b[lrSegmentOff:], seg)
	return true
}

// LongRecordSegment returns the segment stored on a LongRecord page.
func LongRecordSegment(b []byte) ([]byte, error) {
	n := int(binary.BigEndian.Uint32(b[HeaderSize:]))
	if n < 0 || lrSegmentOff+n > len(b) {
		return nil, ErrBadRecord
	}
	return b[lrSegmentOff : lrSegmentOff+n], nil
}
