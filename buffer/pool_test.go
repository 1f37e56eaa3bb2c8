package buffer

import (
	"sync"
	"testing"

	perrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pbeaman/persistit-sub015/page"
)

// memStore backs a pool with an in-memory page array.
type memStore struct {
	id       uint64
	pageSize int

	mu     sync.Mutex
	pages  map[int64][]byte
	count  int64
	writes int
	synced int
}

func newMemStore(id uint64, pageSize int, count int64) *memStore {
	return &memStore{id: id, pageSize: pageSize, pages: make(map[int64][]byte), count: count}
}

func (s *memStore) StoreID() uint64  { return s.id }
func (s *memStore) PageSize() int    { return s.pageSize }
func (s *memStore) PageCount() int64 { return s.count }

func (s *memStore) ReadPage(addr int64, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr < 0 || addr >= s.count {
		return perrors.Errorf("page %d out of bounds", addr)
	}
	if img, ok := s.pages[addr]; ok {
		copy(buf, img)
	} else {
		for i := range buf {
			buf[i] = 0
		}
	}
	return nil
}

func (s *memStore) WritePage(addr int64, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr < 0 || addr >= s.count {
		return perrors.Errorf("page %d out of bounds", addr)
	}
	s.pages[addr] = append([]byte(nil), buf...)
	s.writes++
	return nil
}

func (s *memStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced++
	return nil
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func TestPoolFetchReadThrough(t *testing.T) {
	store := newMemStore(1, 1024, 100)
	pool := NewPool(16)

	p, err := pool.Fetch(store, 3, true, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Addr())
	page.SetType(p.Data(), page.TypeData)
	p.MarkDirty()
	p.Release()

	t.Run("SecondFetchHits", func(t *testing.T) {
		p2, err := pool.Fetch(store, 3, false, true)
		require.NoError(t, err)
		assert.Equal(t, page.TypeData, page.TypeOf(p2.Data()))
		p2.ReleaseShared()

		stats := pool.GetStats()
		assert.Equal(t, uint64(1), stats.Hits)
		assert.Equal(t, uint64(1), stats.Misses)
	})
}

func TestPoolChecksumVerify(t *testing.T) {
	store := newMemStore(1, 1024, 100)
	img := make([]byte, 1024)
	page.SetType(img, page.TypeData)
	page.StampChecksum(img)
	img[200] ^= 0xFF
	store.pages[5] = img

	pool := NewPool(16)
	_, err := pool.Fetch(store, 5, false, true)
	assert.ErrorIs(t, err, page.ErrChecksumMismatch)
}

func TestPoolTryFetchInUse(t *testing.T) {
	store := newMemStore(1, 1024, 100)
	pool := NewPool(16)

	p, err := pool.Fetch(store, 1, true, false)
	require.NoError(t, err)

	_, err = pool.TryFetch(store, 1, true, false)
	assert.ErrorIs(t, err, ErrInUse)
	_, err = pool.TryFetch(store, 1, false, false)
	assert.ErrorIs(t, err, ErrInUse)

	p.Release()

	p2, err := pool.TryFetch(store, 1, false, false)
	require.NoError(t, err)
	p2.ReleaseShared()
}

func TestPoolEviction(t *testing.T) {
	store := newMemStore(1, 1024, 100)
	pool := NewPool(4)

	// Fill past capacity; released frames become eviction candidates.
	for addr := int64(1); addr <= 8; addr++ {
		p, err := pool.Fetch(store, addr, true, false)
		require.NoError(t, err)
		page.SetType(p.Data(), page.TypeData)
		p.MarkDirty()
		p.Release()
	}

	stats := pool.GetStats()
	assert.Equal(t, 4, stats.Frames)
	assert.Equal(t, uint64(4), stats.Evictions)
	// Evicted dirty frames were written back.
	assert.GreaterOrEqual(t, store.writeCount(), 4)
}

func TestPoolExhausted(t *testing.T) {
	store := newMemStore(1, 1024, 100)
	pool := NewPool(4)

	var held []*Page
	for addr := int64(1); addr <= 4; addr++ {
		p, err := pool.Fetch(store, addr, true, false)
		require.NoError(t, err)
		held = append(held, p)
	}

	_, err := pool.Fetch(store, 5, true, false)
	assert.ErrorIs(t, err, ErrPoolExhausted)

	for _, p := range held {
		p.Release()
	}
}

func TestPoolPinPreventsEviction(t *testing.T) {
	store := newMemStore(1, 1024, 100)
	pool := NewPool(4)

	p, err := pool.Fetch(store, 1, true, false)
	require.NoError(t, err)
	pool.Pin(p, true)
	p.Unclaim()

	for addr := int64(2); addr <= 10; addr++ {
		q, err := pool.Fetch(store, addr, true, false)
		require.NoError(t, err)
		q.Release()
	}

	// The pinned frame is still resident and usable.
	require.True(t, p.Reclaim(false))
	assert.Equal(t, int64(1), p.Addr())
	p.Unclaim()
}

func TestPoolFlushAll(t *testing.T) {
	store := newMemStore(1, 1024, 100)
	pool := NewPool(16)

	for addr := int64(1); addr <= 6; addr++ {
		p, err := pool.Fetch(store, addr, true, false)
		require.NoError(t, err)
		page.SetType(p.Data(), page.TypeData)
		p.MarkDirty()
		p.Release()
	}

	require.NoError(t, pool.FlushAll(store))
	assert.Equal(t, 6, store.writeCount())

	t.Run("SecondFlushWritesNothing", func(t *testing.T) {
		require.NoError(t, pool.FlushAll(store))
		assert.Equal(t, 6, store.writeCount())
	})

	t.Run("WrittenPagesCarryChecksums", func(t *testing.T) {
		for addr := int64(1); addr <= 6; addr++ {
			assert.True(t, page.VerifyChecksum(store.pages[addr]))
		}
	})
}

func TestPoolInvalidateAll(t *testing.T) {
	a := newMemStore(1, 1024, 100)
	b := newMemStore(2, 1024, 100)
	pool := NewPool(16)

	for _, s := range []*memStore{a, b} {
		p, err := pool.Fetch(s, 1, false, true)
		require.NoError(t, err)
		p.ReleaseShared()
	}

	pool.InvalidateAll(a)
	stats := pool.GetStats()
	assert.Equal(t, 1, stats.Frames)
}

func TestPoolConcurrentFetch(t *testing.T) {
	store := newMemStore(1, 1024, 100)
	pool := NewPool(64)

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			for addr := int64(1); addr <= 32; addr++ {
				p, err := pool.Fetch(store, addr, false, true)
				if err != nil {
					return err
				}
				p.ReleaseShared()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, pool.GetStats().Frames, 64)
}
