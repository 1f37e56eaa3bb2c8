package volume

import (
	"sort"
	"sync/atomic"

	jerrors "github.com/juju/errors"

	"github.com/pbeaman/persistit-sub015/buffer"
	"github.com/pbeaman/persistit-sub015/logger"
	"github.com/pbeaman/persistit-sub015/page"
)

// directoryTreeName names the tree that indexes all other trees. Its root
// lives in the volume header rather than in a directory record, and it can
// never be removed.
const directoryTreeName = "_directory"

// directoryRoot reads the directory root address under the header claim.
func (v *Volume) directoryRoot() int64 {
	v.claimHeader(true)
	root := v.hdr.DirectoryRoot
	v.releaseHeader()
	return root
}

// ensureDirectoryRoot creates the directory page on first use. A fresh
// volume has no directory until the first tree is created, so page 1 stays
// available to that tree.
func (v *Volume) ensureDirectoryRoot() (int64, error) {
	if root := v.directoryRoot(); root != 0 {
		return root, nil
	}

	p, err := v.Allocate()
	if err != nil {
		return 0, jerrors.Annotatef(err, "creating directory")
	}
	page.InitDataPage(p.Data())
	p.MarkDirty()
	addr := p.Addr()
	p.Release()

	v.claimHeader(true)
	if v.hdr.DirectoryRoot != 0 {
		// Lost the race; give the fresh page back.
		root := v.hdr.DirectoryRoot
		v.releaseHeader()
		v.dealloc.enqueue(page.ChainEntry{Left: addr, Right: page.Solitaire}, v.debugChecks)
		return root, nil
	}
	v.hdr.DirectoryRoot = addr
	v.checkpointLocked()
	v.releaseHeader()
	logger.Infof("volume %s directory created at page %d", v.name, addr)
	return addr, nil
}

// fetchDirectory claims the directory page and decodes its records.
func (v *Volume) fetchDirectory(root int64, forWrite bool) (*buffer.Page, []page.Record, error) {
	p, err := v.pool.Fetch(v, root, forWrite, true)
	if err != nil {
		return nil, nil, jerrors.Annotatef(err, "fetching directory page %d", root)
	}
	if page.TypeOf(p.Data()) != page.TypeData {
		typ := page.TypeOf(p.Data())
		if forWrite {
			p.Release()
		} else {
			p.ReleaseShared()
		}
		return nil, nil, jerrors.Annotatef(ErrCorruptVolume, "directory page %d has type %s", root, typ)
	}
	recs, err := page.ReadRecords(p.Data())
	if err != nil {
		if forWrite {
			p.Release()
		} else {
			p.ReleaseShared()
		}
		return nil, nil, jerrors.Annotatef(ErrCorruptVolume, "directory page %d: %v", root, err)
	}
	return p, recs, nil
}

// putDirectoryEntry inserts or replaces one name->metadata record. A
// directory that no longer fits on its single page reports the volume full.
func (v *Volume) putDirectoryEntry(name string, meta []byte) error {
	root, err := v.ensureDirectoryRoot()
	if err != nil {
		return err
	}
	p, recs, err := v.fetchDirectory(root, true)
	if err != nil {
		return err
	}
	recs = page.InsertRecord(recs, page.Record{Key: []byte(name), Value: meta})
	if err := page.WriteRecords(p.Data(), recs); err != nil {
		p.Release()
		return jerrors.Annotatef(ErrVolumeFull, "directory cannot hold tree %s", name)
	}
	p.MarkDirty()
	p.Release()
	return nil
}

func (v *Volume) deleteDirectoryEntry(name string) error {
	root := v.directoryRoot()
	if root == 0 {
		return nil
	}
	p, recs, err := v.fetchDirectory(root, true)
	if err != nil {
		return err
	}
	recs, removed := page.DeleteRecord(recs, []byte(name))
	if !removed {
		p.Release()
		return nil
	}
	if err := page.WriteRecords(p.Data(), recs); err != nil {
		p.Release()
		return jerrors.Trace(err)
	}
	p.MarkDirty()
	p.Release()
	return nil
}

// lookupDirectoryEntry returns the stored metadata for name.
func (v *Volume) lookupDirectoryEntry(name string) ([]byte, bool, error) {
	root := v.directoryRoot()
	if root == 0 {
		return nil, false, nil
	}
	p, recs, err := v.fetchDirectory(root, false)
	if err != nil {
		return nil, false, err
	}
	r := page.FindRecord(recs, []byte(name))
	p.ReleaseShared()
	if r == nil {
		return nil, false, nil
	}
	return r.Value, true, nil
}

// GetOrCreateTree returns the named tree, creating it when createIfMissing
// is set. A created tree starts as a single empty Data page.
func (v *Volume) GetOrCreateTree(name string, createIfMissing bool) (*Tree, error) {
	if v.isClosed() {
		return nil, jerrors.Trace(ErrVolumeClosed)
	}
	if name == "" {
		return nil, jerrors.Annotatef(ErrTreeNotFound, "empty tree name")
	}
	atomic.AddInt64(&v.getCounter, 1)

	// Held across the whole lookup-or-create so two callers cannot both
	// create the same tree.
	v.treesMu.Lock()
	defer v.treesMu.Unlock()

	if t, ok := v.trees[name]; ok && t.Valid() {
		return t, nil
	}

	if name == directoryTreeName {
		root := v.directoryRoot()
		if root == 0 {
			if !createIfMissing {
				return nil, jerrors.Annotatef(ErrTreeNotFound, "tree %s", name)
			}
			var err error
			if root, err = v.ensureDirectoryRoot(); err != nil {
				return nil, err
			}
		}
		t := newTree(v, name, root, 1, 0)
		v.trees[name] = t
		return t, nil
	}

	meta, found, err := v.lookupDirectoryEntry(name)
	if err != nil {
		return nil, err
	}
	if found {
		root, depth, gen, err := decodeTreeMeta(meta)
		if err != nil {
			return nil, jerrors.Annotatef(err, "tree %s", name)
		}
		t := newTree(v, name, root, depth, gen)
		v.trees[name] = t
		return t, nil
	}

	if !createIfMissing {
		return nil, jerrors.Annotatef(ErrTreeNotFound, "tree %s", name)
	}
	if v.readOnly {
		return nil, jerrors.Annotatef(ErrReadOnlyVolume, "create tree %s", name)
	}

	p, err := v.Allocate()
	if err != nil {
		return nil, jerrors.Annotatef(err, "creating tree %s", name)
	}
	page.InitDataPage(p.Data())
	p.MarkDirty()
	root := p.Addr()
	p.Release()

	t := newTree(v, name, root, 1, 0)
	if err := v.putDirectoryEntry(name, t.encodeMeta()); err != nil {
		v.dealloc.enqueue(page.ChainEntry{Left: root, Right: page.Solitaire}, v.debugChecks)
		return nil, err
	}
	v.trees[name] = t
	logger.Infof("volume %s created tree %s at page %d", v.name, name, root)
	return t, nil
}

// GetTree returns an existing tree or ErrTreeNotFound.
func (v *Volume) GetTree(name string) (*Tree, error) {
	return v.GetOrCreateTree(name, false)
}

// PersistTreeRoot durably records a tree's current root, depth and
// generation. The directory tree's root lives in the header; every other
// tree updates its directory record.
func (v *Volume) PersistTreeRoot(t *Tree) error {
	if t.name == directoryTreeName {
		root, _, _ := t.snapshot()
		v.claimHeader(true)
		v.hdr.DirectoryRoot = root
		v.checkpointLocked()
		v.releaseHeader()
		return nil
	}
	return v.putDirectoryEntry(t.name, t.encodeMeta())
}

// RemoveTree deletes a named tree: its directory record goes away, the
// handle is invalidated, and every page of the tree is queued for
// reclamation, one sibling run per level.
func (v *Volume) RemoveTree(name string) error {
	if v.isClosed() {
		return jerrors.Trace(ErrVolumeClosed)
	}
	if v.readOnly {
		return jerrors.Annotatef(ErrReadOnlyVolume, "remove tree %s", name)
	}
	if name == directoryTreeName {
		return jerrors.Annotatef(ErrProtectedTree, "tree %s", name)
	}

	v.treesMu.Lock()
	t, cached := v.trees[name]
	if !cached || !t.Valid() {
		meta, found, err := v.lookupDirectoryEntryLocked(name)
		if err != nil {
			v.treesMu.Unlock()
			return err
		}
		if !found {
			v.treesMu.Unlock()
			return jerrors.Annotatef(ErrTreeNotFound, "tree %s", name)
		}
		root, depth, gen, err := decodeTreeMeta(meta)
		if err != nil {
			v.treesMu.Unlock()
			return jerrors.Annotatef(err, "tree %s", name)
		}
		t = newTree(v, name, root, depth, gen)
	}
	delete(v.trees, name)
	v.treesMu.Unlock()

	t.ClaimExclusive(true)
	root, depth, _ := t.snapshot()
	t.invalidate()
	t.Release()

	if err := v.deleteDirectoryEntry(name); err != nil {
		return err
	}

	// Queue each level of the tree as one right-sibling run. Level depth
	// holds the root; level 1 holds the Data pages.
	addr := root
	for level := depth; level >= 1 && addr != 0; level-- {
		p, err := v.pool.Fetch(v, addr, false, true)
		if err != nil {
			return jerrors.Annotatef(err, "removing tree %s at page %d", name, addr)
		}
		typ := page.TypeOf(p.Data())
		wantIndex := level > 1
		if (wantIndex && typ != page.TypeIndex) || (!wantIndex && typ != page.TypeData) {
			p.ReleaseShared()
			return jerrors.Annotatef(ErrCorruptVolume,
				"tree %s level %d page %d has type %s", name, level, addr, typ)
		}
		next := int64(0)
		if wantIndex {
			next = page.LeftmostChild(p.Data())
		}
		p.ReleaseShared()

		v.dealloc.enqueue(page.ChainEntry{Left: addr, Right: 0}, v.debugChecks)
		addr = next
	}

	atomic.AddInt64(&v.removeCounter, 1)
	logger.Infof("volume %s removed tree %s (root %d, depth %d)", v.name, name, root, depth)
	return v.commitDeallocations()
}

// lookupDirectoryEntryLocked is lookupDirectoryEntry for callers already
// holding treesMu; the directory page claim does not order against treesMu.
func (v *Volume) lookupDirectoryEntryLocked(name string) ([]byte, bool, error) {
	return v.lookupDirectoryEntry(name)
}

// ListTreeNames returns the names of all trees in the directory, sorted.
// The directory tree itself is not listed.
func (v *Volume) ListTreeNames() ([]string, error) {
	if v.isClosed() {
		return nil, jerrors.Trace(ErrVolumeClosed)
	}
	atomic.AddInt64(&v.traverseCounter, 1)

	root := v.directoryRoot()
	if root == 0 {
		return nil, nil
	}
	p, recs, err := v.fetchDirectory(root, false)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, r := range recs {
		if r.Flag == page.RecordNormal {
			names = append(names, string(r.Key))
		}
	}
	p.ReleaseShared()
	sort.Strings(names)
	return names, nil
}

// NextTreeName returns the first tree name ordered after the given one, or
// "" when none follows. An empty argument returns the first name.
func (v *Volume) NextTreeName(after string) (string, error) {
	names, err := v.ListTreeNames()
	if err != nil {
		return "", err
	}
	for _, n := range names {
		if n > after {
			return n, nil
		}
	}
	return "", nil
}
