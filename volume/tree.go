package volume

import (
	"encoding/binary"
	"sync"

	jerrors "github.com/juju/errors"

	"github.com/pbeaman/persistit-sub015/latch"
)

// treeMetaSize is the encoded size of a tree's directory record value:
// root page(8), depth(4), generation(8).
const treeMetaSize = 20

// Tree is a handle on a named B-tree within a volume. A handle stays valid
// across structural changes to the tree; RemoveTree invalidates it.
type Tree struct {
	volume *Volume
	name   string

	// claim serializes structural changes to this tree against readers.
	claim latch.Claim

	mu         sync.Mutex
	root       int64
	depth      int32
	generation int64
	valid      bool
}

func newTree(v *Volume, name string, root int64, depth int32, generation int64) *Tree {
	return &Tree{
		volume:     v,
		name:       name,
		root:       root,
		depth:      depth,
		generation: generation,
		valid:      true,
	}
}

func (t *Tree) Name() string    { return t.name }
func (t *Tree) Volume() *Volume { return t.volume }

// Root returns the tree's current root page address.
func (t *Tree) Root() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// Depth returns the number of levels in the tree; 1 means the root is a
// Data page.
func (t *Tree) Depth() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.depth
}

// Generation returns the tree's structural generation, bumped on each
// root change.
func (t *Tree) Generation() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// Valid reports whether the handle still names a live tree.
func (t *Tree) Valid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.valid
}

// ClaimExclusive acquires the tree's structural latch.
func (t *Tree) ClaimExclusive(block bool) bool { return t.claim.ClaimExclusive(block) }
func (t *Tree) ClaimShared(block bool) bool    { return t.claim.ClaimShared(block) }
func (t *Tree) Release()                       { t.claim.Release() }
func (t *Tree) ReleaseShared()                 { t.claim.ReleaseShared() }

func (t *Tree) invalidate() {
	t.mu.Lock()
	t.valid = false
	t.root = 0
	t.depth = 0
	t.mu.Unlock()
}

func (t *Tree) snapshot() (root int64, depth int32, generation int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root, t.depth, t.generation
}

func (t *Tree) encodeMeta() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := make([]byte, treeMetaSize)
	binary.BigEndian.PutUint64(buf[0:], uint64(t.root))
	binary.BigEndian.PutUint32(buf[8:], uint32(t.depth))
	binary.BigEndian.PutUint64(buf[12:], uint64(t.generation))
	return buf
}

func decodeTreeMeta(buf []byte) (root int64, depth int32, generation int64, err error) {
	if len(buf) != treeMetaSize {
		return 0, 0, 0, jerrors.Annotatef(ErrCorruptVolume, "tree metadata is %d bytes, expected %d", len(buf), treeMetaSize)
	}
	root = int64(binary.BigEndian.Uint64(buf[0:]))
	depth = int32(binary.BigEndian.Uint32(buf[8:]))
	generation = int64(binary.BigEndian.Uint64(buf[12:]))
	return root, depth, generation, nil
}

// SetRoot records a new root page and depth for the tree, bumps the
// generation, and persists the change.
func (t *Tree) SetRoot(root int64, depth int32) error {
	if t.volume.isClosed() {
		return jerrors.Trace(ErrVolumeClosed)
	}
	if t.volume.readOnly {
		return jerrors.Annotatef(ErrReadOnlyVolume, "set root of tree %s", t.name)
	}
	t.mu.Lock()
	if !t.valid {
		t.mu.Unlock()
		return jerrors.Annotatef(ErrTreeNotFound, "tree %s was removed", t.name)
	}
	t.root = root
	t.depth = depth
	t.generation++
	t.mu.Unlock()
	return t.volume.PersistTreeRoot(t)
}
