package volume

import (
	"errors"

	jerrors "github.com/juju/errors"

	"github.com/pbeaman/persistit-sub015/buffer"
	"github.com/pbeaman/persistit-sub015/page"
)

// Error taxonomy. Every failure surfaced by this package wraps exactly one
// of these sentinels; callers classify with the Is predicates below rather
// than matching on the wrapping library.
var (
	// ErrCorruptVolume marks a bad signature, unsupported version,
	// truncated file, or an unexpected page type during a structural walk.
	ErrCorruptVolume = errors.New("corrupt volume")

	// ErrVolumeFull marks capacity exhaustion at growth time.
	ErrVolumeFull = errors.New("volume full")

	// ErrReadOnlyVolume marks a mutating call against a read-only volume.
	ErrReadOnlyVolume = errors.New("volume is read-only")

	// ErrInvalidPageAddress marks an address outside [0, pageCount).
	ErrInvalidPageAddress = errors.New("invalid page address")

	// ErrInUse marks a non-blocking claim attempt that found the resource
	// held elsewhere. The caller may retry.
	ErrInUse = errors.New("resource in use")

	// ErrVolumeAlreadyExists marks creation over an existing file.
	ErrVolumeAlreadyExists = errors.New("volume already exists")

	// ErrVolumeClosed marks use of a closed volume.
	ErrVolumeClosed = errors.New("volume closed")

	// ErrIOFailure wraps an underlying storage I/O error. It is also
	// recorded as the volume's sticky last error.
	ErrIOFailure = errors.New("volume I/O failure")

	// ErrStructuralConflict is the retryable variant: the structure moved
	// under the caller, who may retry with fresh state. It is never fatal.
	ErrStructuralConflict = errors.New("structural conflict, retry")

	// ErrTreeNotFound marks a lookup of an absent tree without creation.
	ErrTreeNotFound = errors.New("tree not found")

	// ErrProtectedTree marks an attempt to remove the directory tree.
	ErrProtectedTree = errors.New("the directory tree may not be removed")
)

func is(err, sentinel error) bool {
	if errors.Is(err, sentinel) {
		return true
	}
	return jerrors.Cause(err) == sentinel
}

// IsCorruptVolume reports whether err is a corruption error, including a
// page checksum mismatch detected by the buffer pool.
func IsCorruptVolume(err error) bool {
	return is(err, ErrCorruptVolume) || errors.Is(err, page.ErrChecksumMismatch)
}

// IsVolumeFull reports whether err is a capacity-exhausted error.
func IsVolumeFull(err error) bool {
	return is(err, ErrVolumeFull)
}

// IsReadOnly reports whether err is a read-only rejection.
func IsReadOnly(err error) bool {
	return is(err, ErrReadOnlyVolume)
}

// IsInvalidPageAddress reports whether err is an address-range error.
func IsInvalidPageAddress(err error) bool {
	return is(err, ErrInvalidPageAddress)
}

// IsInUse reports whether err came from a refused non-blocking claim,
// either at this layer or inside the buffer pool.
func IsInUse(err error) bool {
	return is(err, ErrInUse) || errors.Is(err, buffer.ErrInUse)
}

// IsIOFailure reports whether err wraps a storage I/O error.
func IsIOFailure(err error) bool {
	return is(err, ErrIOFailure)
}

// IsStructuralConflict reports whether err is the retryable conflict kind.
func IsStructuralConflict(err error) bool {
	return is(err, ErrStructuralConflict)
}

// IsTreeNotFound reports whether err is a tree-lookup miss.
func IsTreeNotFound(err error) bool {
	return is(err, ErrTreeNotFound)
}
