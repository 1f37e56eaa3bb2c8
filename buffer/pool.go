package buffer

import (
	"container/list"
	"sync"
	"sync/atomic"

	perrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/pbeaman/persistit-sub015/logger"
	"github.com/pbeaman/persistit-sub015/page"
)

// Store is the raw storage a pool reads and writes through. Addresses are
// bounded by [0, PageCount()).
type Store interface {
	StoreID() uint64
	PageSize() int
	PageCount() int64
	ReadPage(addr int64, buf []byte) error
	WritePage(addr int64, buf []byte) error
	Sync() error
}

var (
	// ErrPoolExhausted is returned when every frame is pinned or claimed.
	ErrPoolExhausted = perrors.New("buffer pool exhausted")
	// ErrInUse is returned by TryFetch when the page claim is held elsewhere.
	ErrInUse = perrors.New("page claim in use")
)

// Pool is a fixed-capacity cache of page frames with LRU replacement.
// Frames belonging to multiple stores share one pool.
type Pool struct {
	mu       sync.Mutex
	capacity int
	frames   map[frameKey]*list.Element
	lru      *list.List // front = most recently used

	hits      uint64
	misses    uint64
	evictions uint64
}

type frameKey struct {
	store uint64
	addr  int64
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Frames    int
}

// NewPool creates a pool holding at most capacity frames.
func NewPool(capacity int) *Pool {
	if capacity < 4 {
		capacity = 4
	}
	return &Pool{
		capacity: capacity,
		frames:   make(map[frameKey]*list.Element),
		lru:      list.New(),
	}
}

// Fetch returns the frame for (store, addr) with a claim held: exclusive
// when forWrite, shared otherwise. Blocks until the claim is granted. When
// readThrough is set a missing frame is filled from the store and checksum
// verified; otherwise it starts zeroed.
func (pl *Pool) Fetch(store Store, addr int64, forWrite, readThrough bool) (*Page, error) {
	p, err := pl.frame(store, addr, readThrough)
	if err != nil {
		return nil, err
	}
	if forWrite {
		p.claim.ClaimExclusive(true)
	} else {
		p.claim.ClaimShared(true)
	}
	return p, nil
}

// TryFetch is Fetch with a non-blocking claim; it fails with ErrInUse when
// the page is held elsewhere.
func (pl *Pool) TryFetch(store Store, addr int64, forWrite, readThrough bool) (*Page, error) {
	p, err := pl.frame(store, addr, readThrough)
	if err != nil {
		return nil, err
	}
	ok := false
	if forWrite {
		ok = p.claim.ClaimExclusive(false)
	} else {
		ok = p.claim.ClaimShared(false)
	}
	if !ok {
		pl.deref(p)
		return nil, perrors.Wrapf(ErrInUse, "store %d page %d", store.StoreID(), addr)
	}
	return p, nil
}

func (pl *Pool) frame(store Store, addr int64, readThrough bool) (*Page, error) {
	key := frameKey{store: store.StoreID(), addr: addr}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	if el, ok := pl.frames[key]; ok {
		p := el.Value.(*Page)
		p.refs++
		pl.lru.MoveToFront(el)
		atomic.AddUint64(&pl.hits, 1)
		return p, nil
	}
	atomic.AddUint64(&pl.misses, 1)

	if pl.lru.Len() >= pl.capacity {
		if err := pl.evictLocked(); err != nil {
			return nil, err
		}
	}

	p := &Page{
		pool:  pl,
		store: store,
		addr:  addr,
		data:  make([]byte, store.PageSize()),
	}
	if readThrough {
		if err := store.ReadPage(addr, p.data); err != nil {
			return nil, err
		}
		if addr != 0 && page.TypeOf(p.data) != page.TypeUnallocated && !page.VerifyChecksum(p.data) {
			return nil, perrors.Wrapf(page.ErrChecksumMismatch, "store %d page %d", key.store, addr)
		}
	}
	p.refs = 1
	el := pl.lru.PushFront(p)
	pl.frames[key] = el
	return p, nil
}

// evictLocked frees the least-recently-used unpinned, unreferenced,
// unclaimed frame, writing it back first when dirty. Caller holds pl.mu.
func (pl *Pool) evictLocked() error {
	for el := pl.lru.Back(); el != nil; el = el.Prev() {
		p := el.Value.(*Page)
		if p.pinned || p.refs > 0 {
			continue
		}
		if !p.claim.ClaimExclusive(false) {
			continue
		}
		if p.IsDirty() {
			if err := pl.writeBack(p); err != nil {
				p.claim.Release()
				return perrors.Wrapf(err, "evicting store %d page %d", p.store.StoreID(), p.addr)
			}
		}
		pl.lru.Remove(el)
		delete(pl.frames, frameKey{store: p.store.StoreID(), addr: p.addr})
		atomic.AddUint64(&pl.evictions, 1)
		p.claim.Release()
		return nil
	}
	return perrors.WithStack(ErrPoolExhausted)
}

func (pl *Pool) writeBack(p *Page) error {
	if p.addr != 0 {
		page.StampChecksum(p.data)
	}
	if err := p.store.WritePage(p.addr, p.data); err != nil {
		return err
	}
	p.clearDirty()
	return nil
}

func (pl *Pool) deref(p *Page) {
	pl.mu.Lock()
	if p.refs > 0 {
		p.refs--
	}
	pl.mu.Unlock()
}

// Pin marks a frame as never evictable, used for a volume's header page.
func (pl *Pool) Pin(p *Page, pinned bool) {
	pl.mu.Lock()
	p.pinned = pinned
	pl.mu.Unlock()
}

// FlushAll writes back every dirty frame of the given store. Writes run
// concurrently; each page is claimed shared for the duration of its write.
func (pl *Pool) FlushAll(store Store) error {
	id := store.StoreID()

	pl.mu.Lock()
	dirty := make([]*Page, 0)
	for el := pl.lru.Front(); el != nil; el = el.Next() {
		p := el.Value.(*Page)
		if p.store.StoreID() == id && p.IsDirty() {
			p.refs++
			dirty = append(dirty, p)
		}
	}
	pl.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(4)
	for _, p := range dirty {
		p := p
		g.Go(func() error {
			defer pl.deref(p)
			p.claim.ClaimShared(true)
			defer p.claim.ReleaseShared()
			if !p.IsDirty() {
				return nil
			}
			return pl.writeBack(p)
		})
	}
	return g.Wait()
}

// InvalidateAll discards every frame of the given store without writeback.
// The store must be quiescent; dirty frames are dropped with a warning.
func (pl *Pool) InvalidateAll(store Store) {
	id := store.StoreID()

	pl.mu.Lock()
	defer pl.mu.Unlock()
	for key, el := range pl.frames {
		if key.store != id {
			continue
		}
		p := el.Value.(*Page)
		if p.IsDirty() {
			logger.Warnf("invalidating dirty page %d of store %d", p.addr, id)
		}
		pl.lru.Remove(el)
		delete(pl.frames, key)
	}
}

// GetStats returns a snapshot of pool counters.
func (pl *Pool) GetStats() Stats {
	pl.mu.Lock()
	frames := pl.lru.Len()
	pl.mu.Unlock()
	return Stats{
		Hits:      atomic.LoadUint64(&pl.hits),
		Misses:    atomic.LoadUint64(&pl.misses),
		Evictions: atomic.LoadUint64(&pl.evictions),
		Frames:    frames,
	}
}
