package volume

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/golang/snappy"
	jerrors "github.com/juju/errors"
	"github.com/pierrec/lz4/v4"

	"github.com/pbeaman/persistit-sub015/page"
)

// Long records are values too large to inline on a Data page. The value is
// compressed as a whole, prefixed with its original length, and the stream
// is split across a chain of LongRecord pages linked by right siblings.
// The codec is recorded in the head page's flags.

// compressValue returns the stored stream: origLen(4) followed by the
// compressed bytes. For lz4 an incompressible value is stored raw; a
// stream whose body length equals origLen is raw by definition.
func (v *Volume) compressValue(value []byte) []byte {
	var body []byte
	if v.codecLZ4 {
		bound := lz4.CompressBlockBound(len(value))
		buf := make([]byte, bound)
		var c lz4.Compressor
		n, err := c.CompressBlock(value, buf)
		if err != nil || n == 0 || n >= len(value) {
			body = value
		} else {
			body = buf[:n]
		}
	} else {
		body = snappy.Encode(nil, value)
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(value)))
	copy(out[4:], body)
	return out
}

func decompressValue(stream []byte, isLZ4 bool) ([]byte, error) {
	if len(stream) < 4 {
		return nil, jerrors.Annotatef(ErrCorruptVolume, "long record stream truncated")
	}
	origLen := int(binary.BigEndian.Uint32(stream))
	body := stream[4:]

	if isLZ4 {
		if len(body) == origLen {
			return append([]byte(nil), body...), nil
		}
		dst := make([]byte, origLen)
		if _, err := lz4.UncompressBlock(body, dst); err != nil {
			return nil, jerrors.Annotatef(ErrCorruptVolume, "long record lz4: %v", err)
		}
		return dst, nil
	}

	out, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, jerrors.Annotatef(ErrCorruptVolume, "long record snappy: %v", err)
	}
	if len(out) != origLen {
		return nil, jerrors.Annotatef(ErrCorruptVolume, "long record length %d, expected %d", len(out), origLen)
	}
	return out, nil
}

// StoreLongRecord writes value as a long-record chain and returns the head
// page address.
func (v *Volume) StoreLongRecord(value []byte) (int64, error) {
	if v.isClosed() {
		return 0, jerrors.Trace(ErrVolumeClosed)
	}
	if v.readOnly {
		return 0, jerrors.Annotatef(ErrReadOnlyVolume, "store long record")
	}

	stream := v.compressValue(value)
	segCap := page.LongRecordSegmentCapacity(v.pageSize)

	var segs [][]byte
	for off := 0; off < len(stream); off += segCap {
		end := off + segCap
		if end > len(stream) {
			end = len(stream)
		}
		segs = append(segs, stream[off:end])
	}
	if len(segs) == 0 {
		segs = append(segs, nil)
	}

	var flags byte
	if v.codecLZ4 {
		flags |= page.FlagCodecLZ4
	}

	// Allocate tail-first so each page links forward to the next.
	next := int64(0)
	for i := len(segs) - 1; i >= 0; i-- {
		p, err := v.Allocate()
		if err != nil {
			if next != 0 {
				// Give back what was already chained.
				v.dealloc.enqueue(page.ChainEntry{Left: next, Right: 0}, v.debugChecks)
			}
			return 0, err
		}
		page.SetType(p.Data(), page.TypeLongRecord)
		page.SetFlags(p.Data(), flags)
		page.SetLongRecordSegment(p.Data(), segs[i])
		page.SetRightSibling(p.Data(), next)
		p.MarkDirty()
		next = p.Addr()
		p.Release()
	}

	atomic.AddInt64(&v.storeCounter, 1)
	return next, nil
}

// FetchLongRecord reads back the chain starting at addr.
func (v *Volume) FetchLongRecord(addr int64) ([]byte, error) {
	if v.isClosed() {
		return nil, jerrors.Trace(ErrVolumeClosed)
	}
	atomic.AddInt64(&v.fetchCounter, 1)

	var stream []byte
	isLZ4 := false
	for cur, first := addr, true; cur != 0; first = false {
		p, err := v.pool.Fetch(v, cur, false, true)
		if err != nil {
			return nil, jerrors.Annotatef(err, "fetching long record page %d", cur)
		}
		if page.TypeOf(p.Data()) != page.TypeLongRecord {
			typ := page.TypeOf(p.Data())
			p.ReleaseShared()
			return nil, jerrors.Annotatef(ErrCorruptVolume, "long record page %d has type %s", cur, typ)
		}
		if first {
			isLZ4 = page.Flags(p.Data())&page.FlagCodecLZ4 != 0
		}
		seg, err := page.LongRecordSegment(p.Data())
		if err != nil {
			p.ReleaseShared()
			return nil, jerrors.Annotatef(ErrCorruptVolume, "long record page %d: %v", cur, err)
		}
		stream = append(stream, seg...)
		cur = page.RightSibling(p.Data())
		p.ReleaseShared()
	}

	return decompressValue(stream, isLZ4)
}

// FreeLongRecord queues the chain starting at addr for reclamation.
func (v *Volume) FreeLongRecord(addr int64) error {
	if err := v.DeallocateChain(addr, 0); err != nil {
		return err
	}
	atomic.AddInt64(&v.removeCounter, 1)
	return nil
}

// harvest queues the long-record chains still referenced by a Data page's
// prior content. A page can be reclaimed while still owing deallocation of
// chains it referenced; those debts are staged here before the page is
// reset or turned into a garbage page. A LongRecord page's own right
// sibling is not handled here: run entries carry the remainder of a freed
// chain themselves, and harvestSibling covers the solitaire case.
func (v *Volume) harvest(data []byte) error {
	if page.TypeOf(data) != page.TypeData {
		return nil
	}
	recs, err := page.ReadRecords(data)
	if err != nil {
		return jerrors.Annotatef(ErrCorruptVolume, "harvesting data page: %v", err)
	}
	for _, r := range recs {
		if r.LongRecord && len(r.Value) == 8 {
			chain := int64(binary.BigEndian.Uint64(r.Value))
			if chain > 0 && chain < v.PageCount() {
				v.dealloc.enqueue(page.ChainEntry{Left: chain, Right: 0}, v.debugChecks)
			}
		}
	}
	return nil
}

// harvestSibling queues the rest of a long-record chain when a single link
// is reclaimed on its own. Reusing one link frees the links past it.
func (v *Volume) harvestSibling(data []byte) {
	if page.TypeOf(data) != page.TypeLongRecord {
		return
	}
	if rs := page.RightSibling(data); rs != 0 {
		v.dealloc.enqueue(page.ChainEntry{Left: rs, Right: 0}, v.debugChecks)
	}
}
