package buffer

import (
	"sync"

	"github.com/pbeaman/persistit-sub015/latch"
)

// Page is one frame in the pool: the in-memory image of a single page of a
// store, plus its claim and replacement state. A caller that fetched the
// page for writing releases it with Release; a reader uses ReleaseShared.
type Page struct {
	pool  *Pool
	store Store
	addr  int64
	data  []byte
	claim latch.Claim

	mu    sync.Mutex
	dirty bool

	// guarded by pool.mu
	pinned bool
	refs   int
}

// Addr returns the page address within its store.
func (p *Page) Addr() int64 {
	return p.addr
}

// Store returns the backing store of this frame.
func (p *Page) Store() Store {
	return p.store
}

// Data returns the page image. The caller must hold a claim.
func (p *Page) Data() []byte {
	return p.data
}

// MarkDirty flags the page for writeback.
func (p *Page) MarkDirty() {
	p.mu.Lock()
	p.dirty = true
	p.mu.Unlock()
}

// IsDirty reports whether the page needs writeback.
func (p *Page) IsDirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

func (p *Page) clearDirty() {
	p.mu.Lock()
	p.dirty = false
	p.mu.Unlock()
}

// ClaimExclusive acquires the page claim exclusively.
func (p *Page) ClaimExclusive(block bool) bool {
	return p.claim.ClaimExclusive(block)
}

// ClaimShared acquires the page claim in shared mode.
func (p *Page) ClaimShared(block bool) bool {
	return p.claim.ClaimShared(block)
}

// Release releases an exclusive claim and drops the fetch reference.
func (p *Page) Release() {
	p.claim.Release()
	p.pool.deref(p)
}

// ReleaseShared releases a shared claim and drops the fetch reference.
func (p *Page) ReleaseShared() {
	p.claim.ReleaseShared()
	p.pool.deref(p)
}

// Unclaim releases an exclusive claim without dropping the reference. Used
// for the pinned header page, which stays resident between claims.
func (p *Page) Unclaim() {
	p.claim.Release()
}

// Reclaim reacquires the exclusive claim on a page whose reference is still
// held.
func (p *Page) Reclaim(block bool) bool {
	return p.claim.ClaimExclusive(block)
}
