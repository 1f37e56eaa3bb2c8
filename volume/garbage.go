package volume

import (
	jerrors "github.com/juju/errors"

	"github.com/pbeaman/persistit-sub015/logger"
	"github.com/pbeaman/persistit-sub015/page"
)

// addGarbageChain folds one freed entry into the persistent on-disk chain.
// The entry is appended to the head garbage page's free-range list when it
// fits; otherwise the entry's left page itself is harvested, reinitialized
// as a Garbage page, and installed as the new chain head with any remainder
// of the run recorded inside it. The garbage-root mutation and its
// checkpoint happen under the header claim.
func (v *Volume) addGarbageChain(e page.ChainEntry) error {
	v.claimHeader(true)
	defer v.releaseHeader()

	if groot := v.hdr.GarbageRoot; groot != 0 {
		gp, err := v.pool.Fetch(v, groot, true, true)
		if err != nil {
			return jerrors.Annotatef(err, "fetching garbage root %d", groot)
		}
		if page.TypeOf(gp.Data()) != page.TypeGarbage {
			typ := page.TypeOf(gp.Data())
			gp.Release()
			return jerrors.Annotatef(ErrCorruptVolume, "garbage root %d has type %s", groot, typ)
		}
		if page.AppendGarbageEntry(gp.Data(), e) {
			gp.MarkDirty()
			gp.Release()
			return nil
		}
		// Head is full; fall through and start a new head.
		gp.Release()
	}

	lp, err := v.pool.Fetch(v, e.Left, true, true)
	if err != nil {
		return jerrors.Annotatef(err, "fetching freed page %d", e.Left)
	}
	former := page.RightSibling(lp.Data())
	if e.IsSolitaire() {
		v.harvestSibling(lp.Data())
	}
	if err := v.harvest(lp.Data()); err != nil {
		lp.Release()
		return err
	}
	page.InitGarbagePage(lp.Data())
	if !e.IsSolitaire() && former != 0 && former != e.Right {
		// The rest of the freed run lives on past the new head page.
		page.AppendGarbageEntry(lp.Data(), page.ChainEntry{Left: former, Right: e.Right})
	}
	page.SetRightSibling(lp.Data(), v.hdr.GarbageRoot)
	lp.MarkDirty()
	lp.Release()

	logger.Debugf("volume %s: page %d becomes garbage chain head (prev %d)",
		v.name, e.Left, v.hdr.GarbageRoot)
	v.hdr.GarbageRoot = e.Left
	v.checkpointLocked()
	return nil
}
