package volume

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbeaman/persistit-sub015/page"
)

func longRecordSpec(t *testing.T) Spec {
	spec := testSpec(t)
	spec.MaximumPages = 256
	spec.ExtensionPages = 32
	return spec
}

// incompressible fills a buffer with a pattern no codec shrinks.
func incompressible(n int) []byte {
	buf := make([]byte, n)
	state := uint64(0x9E3779B97F4A7C15)
	for i := 0; i+8 <= n; i += 8 {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		binary.LittleEndian.PutUint64(buf[i:], state)
	}
	return buf
}

func TestLongRecordRoundTrip(t *testing.T) {
	v, _ := createTestVolume(t, longRecordSpec(t))
	defer v.Close()

	value := bytes.Repeat([]byte("abcdefgh"), 2000)
	addr, err := v.StoreLongRecord(value)
	require.NoError(t, err)
	require.NotZero(t, addr)

	got, err := v.FetchLongRecord(addr)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	t.Run("HeadPageIsTyped", func(t *testing.T) {
		p, err := v.pool.Fetch(v, addr, false, true)
		require.NoError(t, err)
		defer p.ReleaseShared()
		assert.Equal(t, page.TypeLongRecord, page.TypeOf(p.Data()))
	})
}

func TestLongRecordMultiPage(t *testing.T) {
	v, _ := createTestVolume(t, longRecordSpec(t))
	defer v.Close()

	// Incompressible data forces a chain longer than one page.
	value := incompressible(10 * 1024)
	addr, err := v.StoreLongRecord(value)
	require.NoError(t, err)

	chain := chainPages(t, v, addr)
	assert.Greater(t, len(chain), 1)

	got, err := v.FetchLongRecord(addr)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestLongRecordLZ4(t *testing.T) {
	spec := longRecordSpec(t)
	spec.LongRecordCodec = "lz4"
	v, _ := createTestVolume(t, spec)
	defer v.Close()

	t.Run("Compressible", func(t *testing.T) {
		value := bytes.Repeat([]byte("lz4lz4lz"), 4000)
		addr, err := v.StoreLongRecord(value)
		require.NoError(t, err)
		got, err := v.FetchLongRecord(addr)
		require.NoError(t, err)
		assert.Equal(t, value, got)
	})

	t.Run("IncompressibleFallsBackToRaw", func(t *testing.T) {
		value := incompressible(4096)
		addr, err := v.StoreLongRecord(value)
		require.NoError(t, err)
		got, err := v.FetchLongRecord(addr)
		require.NoError(t, err)
		assert.Equal(t, value, got)
	})
}

func TestLongRecordEmptyAndSmall(t *testing.T) {
	v, _ := createTestVolume(t, longRecordSpec(t))
	defer v.Close()

	for _, value := range [][]byte{{}, []byte("x"), []byte("small value")} {
		addr, err := v.StoreLongRecord(value)
		require.NoError(t, err)
		got, err := v.FetchLongRecord(addr)
		require.NoError(t, err)
		assert.Equal(t, len(value), len(got))
		assert.Equal(t, append([]byte(nil), value...), append([]byte(nil), got...))
	}
}

func TestFreeLongRecordReclaimsChain(t *testing.T) {
	v, _ := createTestVolume(t, longRecordSpec(t))
	defer v.Close()

	value := incompressible(10 * 1024)
	addr, err := v.StoreLongRecord(value)
	require.NoError(t, err)
	chain := chainPages(t, v, addr)
	require.Greater(t, len(chain), 1)

	require.NoError(t, v.FreeLongRecord(addr))
	require.NoError(t, v.Flush())

	// Every page of the chain is reusable again.
	realloc := make(map[int64]bool)
	for range chain {
		p, err := v.Allocate()
		require.NoError(t, err)
		realloc[p.Addr()] = true
		p.Release()
	}
	for _, a := range chain {
		assert.True(t, realloc[a], "chain page %d never reclaimed", a)
	}
}

func TestHarvestDataPageLongRecords(t *testing.T) {
	v, _ := createTestVolume(t, longRecordSpec(t))
	defer v.Close()

	value := incompressible(10 * 1024)
	chainAddr, err := v.StoreLongRecord(value)
	require.NoError(t, err)
	chain := chainPages(t, v, chainAddr)

	// A data page holding a long-record pointer owes that chain when the
	// page itself is freed.
	dp, err := v.Allocate()
	require.NoError(t, err)
	page.InitDataPage(dp.Data())
	recs, err := page.ReadRecords(dp.Data())
	require.NoError(t, err)
	ptr := make([]byte, 8)
	binary.BigEndian.PutUint64(ptr, uint64(chainAddr))
	recs = page.InsertRecord(recs, page.Record{Key: []byte("blob"), LongRecord: true, Value: ptr})
	require.NoError(t, page.WriteRecords(dp.Data(), recs))
	dp.MarkDirty()
	dataAddr := dp.Addr()
	dp.Release()

	require.NoError(t, v.Deallocate(dataAddr))
	require.NoError(t, v.Flush())

	// Freeing the data page swept the chain along with it.
	realloc := make(map[int64]bool)
	for i := 0; i < len(chain)+1; i++ {
		p, err := v.Allocate()
		require.NoError(t, err)
		realloc[p.Addr()] = true
		p.Release()
	}
	assert.True(t, realloc[dataAddr])
	for _, a := range chain {
		assert.True(t, realloc[a], "harvested chain page %d never reclaimed", a)
	}
}

// chainPages walks a long-record chain and returns its page addresses.
func chainPages(t *testing.T, v *Volume, addr int64) []int64 {
	t.Helper()
	var pages []int64
	for cur := addr; cur != 0; {
		pages = append(pages, cur)
		p, err := v.pool.Fetch(v, cur, false, true)
		require.NoError(t, err)
		cur = page.RightSibling(p.Data())
		p.ReleaseShared()
	}
	return pages
}
