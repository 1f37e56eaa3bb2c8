package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHeader() VolumeHeader {
	return VolumeHeader{
		Version:            headerVersionCurrent,
		PageSize:           2048,
		Timestamp:          1700000000123,
		ID:                 0xDEADBEEFCAFE,
		ReadCounter:        11,
		WriteCounter:       12,
		GetCounter:         13,
		FetchCounter:       14,
		TraverseCounter:    15,
		StoreCounter:       16,
		RemoveCounter:      17,
		OpenTime:           21,
		CreateTime:         22,
		LastReadTime:       23,
		LastWriteTime:      24,
		LastExtensionTime:  25,
		HighestPageUsed:    31,
		PageCount:          32,
		ExtensionPages:     4,
		MaximumPages:       100,
		FirstAvailablePage: 33,
		InitialPages:       8,
		DirectoryRoot:      2,
		GarbageRoot:        3,
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := sampleHeader()
	buf := make([]byte, 2048)
	h.encode(buf)

	var got VolumeHeader
	require.NoError(t, got.decode(buf))
	assert.Equal(t, h, got)
}

func TestHeaderDecodeErrors(t *testing.T) {
	h := sampleHeader()
	buf := make([]byte, 2048)
	h.encode(buf)

	t.Run("BadSignature", func(t *testing.T) {
		c := append([]byte(nil), buf...)
		copy(c, "NOT A VOLUME AT ALL")
		var got VolumeHeader
		assert.True(t, IsCorruptVolume(got.decode(c)))
	})

	t.Run("VersionTooHigh", func(t *testing.T) {
		c := append([]byte(nil), buf...)
		c[hdrVersion+3] = headerVersionMax + 1
		var got VolumeHeader
		assert.True(t, IsCorruptVolume(got.decode(c)))
	})

	t.Run("VersionZero", func(t *testing.T) {
		c := append([]byte(nil), buf...)
		c[hdrVersion] = 0
		c[hdrVersion+1] = 0
		c[hdrVersion+2] = 0
		c[hdrVersion+3] = 0
		var got VolumeHeader
		assert.True(t, IsCorruptVolume(got.decode(c)))
	})

	t.Run("Truncated", func(t *testing.T) {
		var got VolumeHeader
		assert.True(t, IsCorruptVolume(got.decode(buf[:headerEncodedSize-1])))
	})

	t.Run("OlderVersionAccepted", func(t *testing.T) {
		c := append([]byte(nil), buf...)
		c[hdrVersion+3] = headerVersionMin
		var got VolumeHeader
		require.NoError(t, got.decode(c))
		assert.Equal(t, int32(headerVersionMin), got.Version)
	})
}

func TestHeaderEncodeChangeDetection(t *testing.T) {
	h := sampleHeader()
	buf := make([]byte, 2048)

	// First encode into a zero buffer is always a change.
	assert.True(t, h.encode(buf))

	t.Run("CounterDriftIsNotStructural", func(t *testing.T) {
		h.ReadCounter += 100
		h.Timestamp += 500
		assert.False(t, h.encode(buf))
	})

	t.Run("StructuralFieldChanges", func(t *testing.T) {
		h.PageCount++
		assert.True(t, h.encode(buf))
		assert.False(t, h.encode(buf))

		h.GarbageRoot = 9
		assert.True(t, h.encode(buf))

		h.DirectoryRoot = 4
		assert.True(t, h.encode(buf))
	})
}
