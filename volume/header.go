package volume

import (
	"bytes"
	"encoding/binary"

	jerrors "github.com/juju/errors"
)

// The header occupies page 0. Fixed byte offsets, big-endian:
//
//	  0 (16) signature
//	 16  (4) format version
//	 20  (4) page size
//	 24  (8) checkpoint timestamp
//	 32  (8) volume id
//	 40  (8) read counter
//	 48  (8) write counter
//	 56  (8) get counter
//	 64  (8) open time
//	 72  (8) create time
//	 80  (8) last read time
//	 88  (8) last write time
//	 96  (8) last extension time
//	104  (8) highest page used
//	112  (8) page count
//	120  (8) extension pages
//	128  (8) maximum pages
//	136  (8) first available page
//	144  (8) directory root page
//	152  (8) garbage root page
//	160  (8) fetch counter
//	168  (8) traverse counter
//	176  (8) store counter
//	184  (8) remove counter
//	192  (8) initial pages
const (
	hdrSignature      = 0
	hdrVersion        = 16
	hdrPageSize       = 20
	hdrTimestamp      = 24
	hdrID             = 32
	hdrReadCounter    = 40
	hdrWriteCounter   = 48
	hdrGetCounter     = 56
	hdrOpenTime       = 64
	hdrCreateTime     = 72
	hdrLastRead       = 80
	hdrLastWrite      = 88
	hdrLastExtension  = 96
	hdrHighestUsed    = 104
	hdrPageCount      = 112
	hdrExtensionPages = 120
	hdrMaximumPages   = 128
	hdrFirstAvailable = 136
	hdrDirectoryRoot  = 144
	hdrGarbageRoot    = 152
	hdrFetchCounter   = 160
	hdrTraverseCtr    = 168
	hdrStoreCounter   = 176
	hdrRemoveCounter  = 184
	hdrInitialPages   = 192

	headerEncodedSize = 200
)

var headerSignatureBytes = []byte("PERSISTIT VOLUME")

const (
	headerVersionMin     = 1
	headerVersionMax     = 2
	headerVersionCurrent = 2
)

// VolumeHeader is the in-memory image of the metadata record persisted in
// page 0.
type VolumeHeader struct {
	Version  int32
	PageSize int32
	// Timestamp is the time of the last checkpoint, Unix milliseconds.
	Timestamp int64
	ID        uint64

	ReadCounter     int64
	WriteCounter    int64
	GetCounter      int64
	FetchCounter    int64
	TraverseCounter int64
	StoreCounter    int64
	RemoveCounter   int64

	OpenTime          int64
	CreateTime        int64
	LastReadTime      int64
	LastWriteTime     int64
	LastExtensionTime int64

	HighestPageUsed    int64
	PageCount          int64
	ExtensionPages     int64
	MaximumPages       int64
	FirstAvailablePage int64
	InitialPages       int64

	DirectoryRoot int64
	GarbageRoot   int64
}

func putI64(buf []byte, off int, v int64) {
	binary.BigEndian.PutUint64(buf[off:], uint64(v))
}

func getI64(buf []byte, off int) int64 {
	return int64(binary.BigEndian.Uint64(buf[off:]))
}

// encode writes every header field into buf, which must be at least one
// page. The returned flag reports whether a structural field changed
// relative to what buf held before; counter and timestamp drift alone does
// not force a header page write.
func (h *VolumeHeader) encode(buf []byte) bool {
	changed := !bytes.Equal(buf[hdrSignature:hdrSignature+16], headerSignatureBytes) ||
		int32(binary.BigEndian.Uint32(buf[hdrVersion:])) != h.Version ||
		int32(binary.BigEndian.Uint32(buf[hdrPageSize:])) != h.PageSize ||
		binary.BigEndian.Uint64(buf[hdrID:]) != h.ID ||
		getI64(buf, hdrHighestUsed) != h.HighestPageUsed ||
		getI64(buf, hdrPageCount) != h.PageCount ||
		getI64(buf, hdrExtensionPages) != h.ExtensionPages ||
		getI64(buf, hdrMaximumPages) != h.MaximumPages ||
		getI64(buf, hdrFirstAvailable) != h.FirstAvailablePage ||
		getI64(buf, hdrDirectoryRoot) != h.DirectoryRoot ||
		getI64(buf, hdrGarbageRoot) != h.GarbageRoot ||
		getI64(buf, hdrInitialPages) != h.InitialPages

	copy(buf[hdrSignature:], headerSignatureBytes)
	binary.BigEndian.PutUint32(buf[hdrVersion:], uint32(h.Version))
	binary.BigEndian.PutUint32(buf[hdrPageSize:], uint32(h.PageSize))
	putI64(buf, hdrTimestamp, h.Timestamp)
	binary.BigEndian.PutUint64(buf[hdrID:], h.ID)
	putI64(buf, hdrReadCounter, h.ReadCounter)
	putI64(buf, hdrWriteCounter, h.WriteCounter)
	putI64(buf, hdrGetCounter, h.GetCounter)
	putI64(buf, hdrOpenTime, h.OpenTime)
	putI64(buf, hdrCreateTime, h.CreateTime)
	putI64(buf, hdrLastRead, h.LastReadTime)
	putI64(buf, hdrLastWrite, h.LastWriteTime)
	putI64(buf, hdrLastExtension, h.LastExtensionTime)
	putI64(buf, hdrHighestUsed, h.HighestPageUsed)
	putI64(buf, hdrPageCount, h.PageCount)
	putI64(buf, hdrExtensionPages, h.ExtensionPages)
	putI64(buf, hdrMaximumPages, h.MaximumPages)
	putI64(buf, hdrFirstAvailable, h.FirstAvailablePage)
	putI64(buf, hdrDirectoryRoot, h.DirectoryRoot)
	putI64(buf, hdrGarbageRoot, h.GarbageRoot)
	putI64(buf, hdrFetchCounter, h.FetchCounter)
	putI64(buf, hdrTraverseCtr, h.TraverseCounter)
	putI64(buf, hdrStoreCounter, h.StoreCounter)
	putI64(buf, hdrRemoveCounter, h.RemoveCounter)
	putI64(buf, hdrInitialPages, h.InitialPages)

	return changed
}

// decode reads the header fields from buf, validating signature and
// version.
func (h *VolumeHeader) decode(buf []byte) error {
	if len(buf) < headerEncodedSize {
		return jerrors.Annotatef(ErrCorruptVolume, "header truncated at %d bytes", len(buf))
	}
	if !bytes.Equal(buf[hdrSignature:hdrSignature+16], headerSignatureBytes) {
		return jerrors.Annotatef(ErrCorruptVolume, "bad signature")
	}
	version := int32(binary.BigEndian.Uint32(buf[hdrVersion:]))
	if version < headerVersionMin || version > headerVersionMax {
		return jerrors.Annotatef(ErrCorruptVolume, "unsupported format version %d", version)
	}

	h.Version = version
	h.PageSize = int32(binary.BigEndian.Uint32(buf[hdrPageSize:]))
	h.Timestamp = getI64(buf, hdrTimestamp)
	h.ID = binary.BigEndian.Uint64(buf[hdrID:])
	h.ReadCounter = getI64(buf, hdrReadCounter)
	h.WriteCounter = getI64(buf, hdrWriteCounter)
	h.GetCounter = getI64(buf, hdrGetCounter)
	h.OpenTime = getI64(buf, hdrOpenTime)
	h.CreateTime = getI64(buf, hdrCreateTime)
	h.LastReadTime = getI64(buf, hdrLastRead)
	h.LastWriteTime = getI64(buf, hdrLastWrite)
	h.LastExtensionTime = getI64(buf, hdrLastExtension)
	h.HighestPageUsed = getI64(buf, hdrHighestUsed)
	h.PageCount = getI64(buf, hdrPageCount)
	h.ExtensionPages = getI64(buf, hdrExtensionPages)
	h.MaximumPages = getI64(buf, hdrMaximumPages)
	h.FirstAvailablePage = getI64(buf, hdrFirstAvailable)
	h.DirectoryRoot = getI64(buf, hdrDirectoryRoot)
	h.GarbageRoot = getI64(buf, hdrGarbageRoot)
	h.FetchCounter = getI64(buf, hdrFetchCounter)
	h.TraverseCounter = getI64(buf, hdrTraverseCtr)
	h.StoreCounter = getI64(buf, hdrStoreCounter)
	h.RemoveCounter = getI64(buf, hdrRemoveCounter)
	h.InitialPages = getI64(buf, hdrInitialPages)

	return nil
}
