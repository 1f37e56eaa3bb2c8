package volume

import (
	jerrors "github.com/juju/errors"

	"github.com/pbeaman/persistit-sub015/buffer"
	"github.com/pbeaman/persistit-sub015/page"
)

// Allocate returns a page the caller may initialize and fill; the caller
// holds the exclusive claim until it releases the page. Sources, in order:
// the deferred-deallocation queue (most recent first), the persistent
// garbage chain, and finally volume growth. Reused pages are harvested and
// handed back as Unallocated with cleared content.
func (v *Volume) Allocate() (*buffer.Page, error) {
	if v.isClosed() {
		return nil, jerrors.Trace(ErrVolumeClosed)
	}
	if v.readOnly {
		return nil, jerrors.Annotatef(ErrReadOnlyVolume, "allocate")
	}

	if e, ok := v.dealloc.pop(); ok {
		return v.allocateFromEntry(e)
	}

	v.claimHeader(true)

	p, err := v.allocateFromChainLocked()
	if err != nil {
		v.releaseHeader()
		return nil, err
	}
	if p != nil {
		v.releaseHeader()
		return p, nil
	}

	if v.hdr.FirstAvailablePage >= v.hdr.PageCount {
		if err := v.extendByIncrementLocked(); err != nil {
			v.releaseHeader()
			return nil, err
		}
	}
	addr := v.hdr.FirstAvailablePage
	v.hdr.FirstAvailablePage++
	if addr > v.hdr.HighestPageUsed {
		v.hdr.HighestPageUsed = addr
	}
	v.checkpointLocked()
	v.releaseHeader()

	// Never-used address: no read, the page cannot have held content.
	np, err := v.pool.Fetch(v, addr, true, false)
	if err != nil {
		return nil, jerrors.Trace(err)
	}
	page.Reset(np.Data())
	np.MarkDirty()
	return np, nil
}

// allocateFromEntry serves an allocation from a deferred-deallocation
// record. A run entry yields its leftmost page, with the remainder
// re-queued.
func (v *Volume) allocateFromEntry(e page.ChainEntry) (*buffer.Page, error) {
	if e.IsSolitaire() {
		return v.fetchForReuse(e.Left)
	}

	p, err := v.pool.Fetch(v, e.Left, true, true)
	if err != nil {
		// Keep the entry; the next allocation or commit retries it.
		v.dealloc.enqueue(e, false)
		return nil, jerrors.Annotatef(err, "fetching deferred page %d", e.Left)
	}
	rs := page.RightSibling(p.Data())
	if rs != 0 && rs != e.Right {
		v.dealloc.enqueue(page.ChainEntry{Left: rs, Right: e.Right}, v.debugChecks)
	}
	if err := v.harvest(p.Data()); err != nil {
		p.Release()
		return nil, err
	}
	page.Reset(p.Data())
	p.MarkDirty()
	return p, nil
}

// allocateFromChainLocked pops a page from the persistent garbage chain,
// returning (nil, nil) when the chain is empty. Caller holds the header
// claim.
func (v *Volume) allocateFromChainLocked() (*buffer.Page, error) {
	groot := v.hdr.GarbageRoot
	if groot == 0 {
		return nil, nil
	}

	gp, err := v.pool.Fetch(v, groot, true, true)
	if err != nil {
		return nil, jerrors.Annotatef(err, "fetching garbage root %d", groot)
	}
	if page.TypeOf(gp.Data()) != page.TypeGarbage {
		typ := page.TypeOf(gp.Data())
		gp.Release()
		return nil, jerrors.Annotatef(ErrCorruptVolume, "garbage root %d has type %s", groot, typ)
	}

	entries := page.GarbageEntries(gp.Data())
	if len(entries) == 0 {
		// Empty head is the sentinel: unlink it and reuse the head page
		// itself.
		v.hdr.GarbageRoot = page.RightSibling(gp.Data())
		v.checkpointLocked()
		page.Reset(gp.Data())
		gp.MarkDirty()
		return gp, nil
	}

	e := entries[0]
	if e.IsSolitaire() {
		page.WriteGarbageEntries(gp.Data(), entries[1:])
		gp.MarkDirty()
		gp.Release()
		return v.fetchForReuse(e.Left)
	}

	lp, err := v.pool.Fetch(v, e.Left, true, true)
	if err != nil {
		gp.Release()
		return nil, jerrors.Annotatef(err, "fetching chained page %d", e.Left)
	}
	rs := page.RightSibling(lp.Data())
	if rs == 0 || rs == e.Right {
		entries = entries[1:]
	} else {
		entries[0].Left = rs
	}
	page.WriteGarbageEntries(gp.Data(), entries)
	gp.MarkDirty()
	gp.Release()

	if err := v.harvest(lp.Data()); err != nil {
		lp.Release()
		return nil, err
	}
	page.Reset(lp.Data())
	lp.MarkDirty()
	return lp, nil
}

// fetchForReuse claims a previously used page, harvests whatever it still
// references, and resets it to Unallocated.
func (v *Volume) fetchForReuse(addr int64) (*buffer.Page, error) {
	p, err := v.pool.Fetch(v, addr, true, true)
	if err != nil {
		return nil, jerrors.Annotatef(err, "fetching page %d for reuse", addr)
	}
	v.harvestSibling(p.Data())
	if err := v.harvest(p.Data()); err != nil {
		p.Release()
		return nil, err
	}
	page.Reset(p.Data())
	p.MarkDirty()
	return p, nil
}
