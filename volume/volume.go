package volume

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	jerrors "github.com/juju/errors"

	"github.com/pbeaman/persistit-sub015/buffer"
	"github.com/pbeaman/persistit-sub015/logger"
	"github.com/pbeaman/persistit-sub015/util"
)

// Spec describes a volume to create or open.
type Spec struct {
	Path           string
	Name           string
	PageSize       int
	InitialPages   int64
	ExtensionPages int64
	MaximumPages   int64
	ReadOnly       bool

	// Loose volumes are transient: pages live only in memory and nothing
	// is ever written to disk.
	Loose bool

	// LongRecordCodec selects "snappy" (default) or "lz4" for long-record
	// chains created through this volume.
	LongRecordCodec string

	// DebugChecks enables invariant checking on the deferred-deallocation
	// queue.
	DebugChecks bool
}

const (
	minPageSize = 1024
	maxPageSize = 65536
)

// Volume owns a single backing file divided into fixed-size pages. It
// allocates and reclaims pages, persists its own metadata header in page 0,
// and indexes the named trees built on top of it.
type Volume struct {
	id          uint64
	name        string
	path        string
	pageSize    int
	readOnly    bool
	loose       bool
	debugChecks bool
	codecLZ4    bool

	file *os.File
	pool *buffer.Pool

	// hdr is guarded by the header page claim.
	hdr        VolumeHeader
	headerPage *buffer.Page

	pageCount int64 // atomic mirror of hdr.PageCount

	dealloc deallocQueue

	treesMu sync.Mutex
	trees   map[string]*Tree

	readCounter     int64
	writeCounter    int64
	getCounter      int64
	fetchCounter    int64
	traverseCounter int64
	storeCounter    int64
	removeCounter   int64
	lastReadTime    int64
	lastWriteTime   int64

	looseMu    sync.Mutex
	loosePages map[int64][]byte

	errMu   sync.Mutex
	lastErr error

	closed int32
}

func validateSpec(spec *Spec) error {
	if spec.Path == "" && !spec.Loose {
		return jerrors.Errorf("volume spec has no path")
	}
	ps := int64(spec.PageSize)
	if !util.IsPowerOfTwo(ps) || ps < minPageSize || ps > maxPageSize {
		return jerrors.Errorf("invalid page size %d", spec.PageSize)
	}
	if spec.InitialPages < 1 {
		spec.InitialPages = 1
	}
	if spec.MaximumPages < spec.InitialPages {
		return jerrors.Errorf("maximum pages %d below initial pages %d",
			spec.MaximumPages, spec.InitialPages)
	}
	if spec.ExtensionPages < 0 {
		spec.ExtensionPages = 0
	}
	if spec.Name == "" {
		if spec.Path != "" {
			spec.Name = filepath.Base(spec.Path)
		} else {
			spec.Name = "transient"
		}
	}
	return nil
}

func newVolume(spec Spec, pool *buffer.Pool) *Volume {
	return &Volume{
		name:        spec.Name,
		path:        spec.Path,
		pageSize:    spec.PageSize,
		readOnly:    spec.ReadOnly,
		loose:       spec.Loose,
		debugChecks: spec.DebugChecks,
		codecLZ4:    spec.LongRecordCodec == "lz4",
		pool:        pool,
		trees:       make(map[string]*Tree),
		loosePages:  make(map[int64][]byte),
	}
}

// Create initializes a new volume: page 0 is written with a fresh header
// and the backing file is sized to the initial page count. The directory
// tree root stays zero until the first tree is created.
func Create(spec Spec, pool *buffer.Pool) (*Volume, error) {
	if err := validateSpec(&spec); err != nil {
		return nil, err
	}
	if spec.ReadOnly {
		return nil, jerrors.Annotatef(ErrReadOnlyVolume, "cannot create read-only volume %s", spec.Path)
	}

	v := newVolume(spec, pool)
	now := time.Now().UnixMilli()
	v.id = util.HashCode([]byte(spec.Name+spec.Path)) ^ uint64(now)

	if !v.loose {
		exists, err := util.PathExists(spec.Path)
		if err != nil {
			return nil, jerrors.Trace(err)
		}
		if exists {
			return nil, jerrors.Annotatef(ErrVolumeAlreadyExists, "%s", spec.Path)
		}
		if err := util.CreateFileBySize(spec.Path, spec.InitialPages*int64(spec.PageSize)); err != nil {
			return nil, jerrors.Annotatef(err, "creating volume file %s", spec.Path)
		}
		f, err := os.OpenFile(spec.Path, os.O_RDWR, 0644)
		if err != nil {
			return nil, jerrors.Trace(err)
		}
		v.file = f
	}

	v.hdr = VolumeHeader{
		Version:            headerVersionCurrent,
		PageSize:           int32(spec.PageSize),
		Timestamp:          now,
		ID:                 v.id,
		OpenTime:           now,
		CreateTime:         now,
		PageCount:          spec.InitialPages,
		ExtensionPages:     spec.ExtensionPages,
		MaximumPages:       spec.MaximumPages,
		InitialPages:       spec.InitialPages,
		FirstAvailablePage: 1,
	}
	atomic.StoreInt64(&v.pageCount, spec.InitialPages)

	hp, err := pool.Fetch(v, 0, true, false)
	if err != nil {
		v.discard()
		return nil, jerrors.Trace(err)
	}
	v.headerPage = hp
	pool.Pin(hp, true)
	v.hdr.encode(hp.Data())
	hp.MarkDirty()
	hp.Unclaim()

	if err := v.Flush(); err != nil {
		v.discard()
		return nil, jerrors.Trace(err)
	}
	if err := v.syncFile(); err != nil {
		v.discard()
		return nil, err
	}

	logger.Infof("created volume %s id=%d pageSize=%d initial=%d max=%d",
		v.name, v.id, v.pageSize, spec.InitialPages, spec.MaximumPages)
	return v, nil
}

// Open loads an existing volume, validating the header signature and
// format version before any other I/O.
func Open(spec Spec, pool *buffer.Pool) (*Volume, error) {
	if spec.Loose {
		return nil, jerrors.Errorf("a loose volume cannot be reopened")
	}

	flags := os.O_RDWR
	if spec.ReadOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(spec.Path, flags, 0644)
	if err != nil {
		return nil, jerrors.Annotatef(err, "opening volume file %s", spec.Path)
	}

	probe := make([]byte, headerEncodedSize)
	if _, err := f.ReadAt(probe, 0); err != nil {
		f.Close()
		return nil, jerrors.Annotatef(ErrCorruptVolume, "reading header of %s: %v", spec.Path, err)
	}

	var hdr VolumeHeader
	if err := hdr.decode(probe); err != nil {
		f.Close()
		return nil, jerrors.Annotatef(err, "volume %s", spec.Path)
	}

	// Geometry and limits come from the header, not the caller.
	spec.PageSize = int(hdr.PageSize)
	spec.InitialPages = hdr.InitialPages
	spec.ExtensionPages = hdr.ExtensionPages
	spec.MaximumPages = hdr.MaximumPages
	spec.Name = ""
	if err := validateSpec(&spec); err != nil {
		f.Close()
		return nil, jerrors.Annotatef(ErrCorruptVolume, "volume %s: %v", spec.Path, err)
	}

	v := newVolume(spec, pool)
	v.file = f
	v.id = hdr.ID
	v.hdr = hdr
	v.hdr.OpenTime = time.Now().UnixMilli()
	atomic.StoreInt64(&v.pageCount, hdr.PageCount)

	atomic.StoreInt64(&v.readCounter, hdr.ReadCounter)
	atomic.StoreInt64(&v.writeCounter, hdr.WriteCounter)
	atomic.StoreInt64(&v.getCounter, hdr.GetCounter)
	atomic.StoreInt64(&v.fetchCounter, hdr.FetchCounter)
	atomic.StoreInt64(&v.traverseCounter, hdr.TraverseCounter)
	atomic.StoreInt64(&v.storeCounter, hdr.StoreCounter)
	atomic.StoreInt64(&v.removeCounter, hdr.RemoveCounter)
	atomic.StoreInt64(&v.lastReadTime, hdr.LastReadTime)
	atomic.StoreInt64(&v.lastWriteTime, hdr.LastWriteTime)

	hp, err := pool.Fetch(v, 0, true, true)
	if err != nil {
		f.Close()
		return nil, jerrors.Trace(err)
	}
	v.headerPage = hp
	pool.Pin(hp, true)
	hp.Unclaim()

	logger.Infof("opened volume %s id=%d pages=%d", v.name, v.id, hdr.PageCount)
	return v, nil
}

func (v *Volume) discard() {
	if v.headerPage != nil {
		v.pool.Pin(v.headerPage, false)
	}
	v.pool.InvalidateAll(v)
	if v.file != nil {
		v.file.Close()
	}
}

// Name returns the volume display name.
func (v *Volume) Name() string { return v.name }

// Path returns the backing file path.
func (v *Volume) Path() string { return v.path }

// ID returns the stable volume id.
func (v *Volume) ID() uint64 { return v.id }

// ReadOnly reports whether the volume rejects mutation.
func (v *Volume) ReadOnly() bool { return v.readOnly }

// Loose reports whether the volume is transient.
func (v *Volume) Loose() bool { return v.loose }

func (v *Volume) isClosed() bool {
	return atomic.LoadInt32(&v.closed) != 0
}

// StoreID implements buffer.Store.
func (v *Volume) StoreID() uint64 { return v.id }

// PageSize implements buffer.Store.
func (v *Volume) PageSize() int { return v.pageSize }

// PageCount implements buffer.Store.
func (v *Volume) PageCount() int64 {
	return atomic.LoadInt64(&v.pageCount)
}

// ReadPage implements buffer.Store. Loose volumes serve pages from memory;
// a never-written loose page reads as zeros.
func (v *Volume) ReadPage(addr int64, buf []byte) error {
	if v.isClosed() {
		return jerrors.Trace(ErrVolumeClosed)
	}
	if addr < 0 || addr >= v.PageCount() {
		return jerrors.Annotatef(ErrInvalidPageAddress, "read page %d of %d", addr, v.PageCount())
	}

	atomic.AddInt64(&v.readCounter, 1)
	atomic.StoreInt64(&v.lastReadTime, time.Now().UnixMilli())

	if v.loose {
		v.looseMu.Lock()
		src, ok := v.loosePages[addr]
		if ok {
			copy(buf, src)
		} else {
			for i := range buf {
				buf[i] = 0
			}
		}
		v.looseMu.Unlock()
		return nil
	}

	n, err := v.file.ReadAt(buf, addr*int64(v.pageSize))
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// Sparse tail of a freshly extended file reads as zeros.
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		return nil
	}
	if err != nil {
		return v.sticky(jerrors.Annotatef(ErrIOFailure, "reading page %d: %v", addr, err))
	}
	return nil
}

// WritePage implements buffer.Store.
func (v *Volume) WritePage(addr int64, buf []byte) error {
	if v.isClosed() {
		return jerrors.Trace(ErrVolumeClosed)
	}
	if v.readOnly {
		return jerrors.Annotatef(ErrReadOnlyVolume, "write page %d", addr)
	}
	if addr < 0 || addr >= v.PageCount() {
		return jerrors.Annotatef(ErrInvalidPageAddress, "write page %d of %d", addr, v.PageCount())
	}

	atomic.AddInt64(&v.writeCounter, 1)
	atomic.StoreInt64(&v.lastWriteTime, time.Now().UnixMilli())

	if v.loose {
		dst := make([]byte, len(buf))
		copy(dst, buf)
		v.looseMu.Lock()
		v.loosePages[addr] = dst
		v.looseMu.Unlock()
		return nil
	}

	if _, err := v.file.WriteAt(buf, addr*int64(v.pageSize)); err != nil {
		return v.sticky(jerrors.Annotatef(ErrIOFailure, "writing page %d: %v", addr, err))
	}
	return nil
}

// Sync implements buffer.Store: it forces prior writes to stable storage
// without flushing dirty frames. Use the Volume-level Flush for that.
func (v *Volume) Sync() error {
	return v.syncFile()
}

func (v *Volume) syncFile() error {
	if v.loose || v.file == nil {
		return nil
	}
	if err := v.file.Sync(); err != nil {
		return v.sticky(jerrors.Annotatef(ErrIOFailure, "sync: %v", err))
	}
	return nil
}

// claimHeader takes the exclusive claim on the header page, the
// serialization point for all structural metadata mutation.
func (v *Volume) claimHeader(block bool) bool {
	return v.headerPage.Reclaim(block)
}

func (v *Volume) releaseHeader() {
	v.headerPage.Unclaim()
}

// checkpointLocked folds the live counters into the header image and marks
// the header page dirty when a structural field changed. Caller holds the
// header claim.
func (v *Volume) checkpointLocked() {
	v.hdr.Timestamp = time.Now().UnixMilli()
	v.hdr.ReadCounter = atomic.LoadInt64(&v.readCounter)
	v.hdr.WriteCounter = atomic.LoadInt64(&v.writeCounter)
	v.hdr.GetCounter = atomic.LoadInt64(&v.getCounter)
	v.hdr.FetchCounter = atomic.LoadInt64(&v.fetchCounter)
	v.hdr.TraverseCounter = atomic.LoadInt64(&v.traverseCounter)
	v.hdr.StoreCounter = atomic.LoadInt64(&v.storeCounter)
	v.hdr.RemoveCounter = atomic.LoadInt64(&v.removeCounter)
	v.hdr.LastReadTime = atomic.LoadInt64(&v.lastReadTime)
	v.hdr.LastWriteTime = atomic.LoadInt64(&v.lastWriteTime)

	atomic.StoreInt64(&v.pageCount, v.hdr.PageCount)

	if v.hdr.encode(v.headerPage.Data()) {
		v.headerPage.MarkDirty()
	}
}

// Flush commits pending deferred deallocations, checkpoints the header,
// and writes back every dirty page. Flushing twice without intervening
// mutation performs no page writes the second time.
func (v *Volume) Flush() error {
	if v.isClosed() {
		return jerrors.Trace(ErrVolumeClosed)
	}

	// Folding a chain may harvest further deallocations; keep folding
	// until the queue is quiet.
	for i := 0; i < 64 && v.dealloc.size() > 0; i++ {
		if err := v.commitDeallocations(); err != nil {
			return err
		}
	}
	if v.dealloc.size() > 0 {
		logger.Warnf("volume %s: deferred deallocations still pending after flush", v.name)
	}

	v.claimHeader(true)
	v.checkpointLocked()
	v.releaseHeader()

	if err := v.pool.FlushAll(v); err != nil {
		return v.sticky(jerrors.Annotatef(ErrIOFailure, "flush: %v", err))
	}
	return nil
}

// SyncAll flushes and then forces durability.
func (v *Volume) SyncAll() error {
	if err := v.Flush(); err != nil {
		return err
	}
	return v.syncFile()
}

// Close flushes pending state, releases the pinned header page, and closes
// the backing file. The volume is unusable afterwards.
func (v *Volume) Close() error {
	if v.isClosed() {
		return jerrors.Trace(ErrVolumeClosed)
	}

	var firstErr error
	if !v.readOnly {
		if err := v.Flush(); err != nil {
			firstErr = err
		}
		if err := v.syncFile(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	atomic.StoreInt32(&v.closed, 1)

	v.pool.Pin(v.headerPage, false)
	if v.headerPage.Reclaim(false) {
		v.headerPage.Release()
	}
	v.pool.InvalidateAll(v)

	if v.file != nil {
		if err := v.file.Close(); err != nil && firstErr == nil {
			firstErr = jerrors.Annotatef(ErrIOFailure, "close: %v", err)
		}
	}

	logger.Infof("closed volume %s", v.name)
	return firstErr
}

// sticky records err as the volume's last I/O error and returns it.
func (v *Volume) sticky(err error) error {
	v.errMu.Lock()
	v.lastErr = err
	v.errMu.Unlock()
	return err
}

// LastError returns the sticky last I/O error, nil if none.
func (v *Volume) LastError() error {
	v.errMu.Lock()
	defer v.errMu.Unlock()
	return v.lastErr
}

// ClearLastError clears the sticky last I/O error.
func (v *Volume) ClearLastError() {
	v.errMu.Lock()
	v.lastErr = nil
	v.errMu.Unlock()
}

// Stats is a snapshot of the volume's operation counters and structural
// fields.
type Stats struct {
	Reads     int64
	Writes    int64
	Gets      int64
	Fetches   int64
	Traverses int64
	Stores    int64
	Removes   int64

	PageCount          int64
	FirstAvailablePage int64
	HighestPageUsed    int64
	DirectoryRoot      int64
	GarbageRoot        int64
}

// GatherStats snapshots the volume counters under the header claim.
func (v *Volume) GatherStats() Stats {
	v.claimHeader(true)
	defer v.releaseHeader()
	return Stats{
		Reads:              atomic.LoadInt64(&v.readCounter),
		Writes:             atomic.LoadInt64(&v.writeCounter),
		Gets:               atomic.LoadInt64(&v.getCounter),
		Fetches:            atomic.LoadInt64(&v.fetchCounter),
		Traverses:          atomic.LoadInt64(&v.traverseCounter),
		Stores:             atomic.LoadInt64(&v.storeCounter),
		Removes:            atomic.LoadInt64(&v.removeCounter),
		PageCount:          v.hdr.PageCount,
		FirstAvailablePage: v.hdr.FirstAvailablePage,
		HighestPageUsed:    v.hdr.HighestPageUsed,
		DirectoryRoot:      v.hdr.DirectoryRoot,
		GarbageRoot:        v.hdr.GarbageRoot,
	}
}

// Header returns a copy of the current header under the header claim.
func (v *Volume) Header() VolumeHeader {
	v.claimHeader(true)
	defer v.releaseHeader()
	return v.hdr
}
