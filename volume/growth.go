package volume

import (
	"time"

	jerrors "github.com/juju/errors"

	"github.com/pbeaman/persistit-sub015/logger"
)

// extendLocked grows the page address space to target pages, never
// shrinking. For durable volumes the backing file is extended and forced
// to stable storage before the new page count takes effect; an I/O failure
// leaves the page count unchanged. Caller holds the header claim.
func (v *Volume) extendLocked(target int64) error {
	if target > v.hdr.MaximumPages {
		return jerrors.Annotatef(ErrVolumeFull, "extend to %d pages exceeds maximum %d",
			target, v.hdr.MaximumPages)
	}
	if target <= v.hdr.PageCount {
		return nil
	}
	if v.readOnly {
		return jerrors.Annotatef(ErrReadOnlyVolume, "extend volume %s", v.name)
	}

	if !v.loose {
		size := target * int64(v.pageSize)
		info, err := v.file.Stat()
		if err != nil {
			return v.sticky(jerrors.Annotatef(ErrIOFailure, "extend stat: %v", err))
		}
		if info.Size() < size {
			if err := v.file.Truncate(size); err != nil {
				return v.sticky(jerrors.Annotatef(ErrIOFailure, "extend to %d bytes: %v", size, err))
			}
			if err := v.file.Sync(); err != nil {
				return v.sticky(jerrors.Annotatef(ErrIOFailure, "extend sync: %v", err))
			}
		}
	}

	logger.Debugf("volume %s extended from %d to %d pages", v.name, v.hdr.PageCount, target)
	v.hdr.PageCount = target
	v.hdr.LastExtensionTime = time.Now().UnixMilli()
	v.checkpointLocked()
	return nil
}

// extendByIncrementLocked grows by the configured increment, clamped to the
// maximum. Caller holds the header claim.
func (v *Volume) extendByIncrementLocked() error {
	if v.hdr.PageCount >= v.hdr.MaximumPages {
		return jerrors.Annotatef(ErrVolumeFull, "volume %s is at its maximum of %d pages",
			v.name, v.hdr.MaximumPages)
	}
	if v.hdr.ExtensionPages <= 0 {
		return jerrors.Annotatef(ErrVolumeFull, "volume %s has no extension increment", v.name)
	}
	target := v.hdr.PageCount + v.hdr.ExtensionPages
	if target > v.hdr.MaximumPages {
		target = v.hdr.MaximumPages
	}
	return v.extendLocked(target)
}

// Extend grows the page address space to at least target pages.
func (v *Volume) Extend(target int64) error {
	if v.isClosed() {
		return jerrors.Trace(ErrVolumeClosed)
	}
	v.claimHeader(true)
	defer v.releaseHeader()
	return v.extendLocked(target)
}

// ExtendByIncrement grows the page address space by the configured
// extension increment, clamped to the maximum page count.
func (v *Volume) ExtendByIncrement() error {
	if v.isClosed() {
		return jerrors.Trace(ErrVolumeClosed)
	}
	v.claimHeader(true)
	defer v.releaseHeader()
	return v.extendByIncrementLocked()
}
