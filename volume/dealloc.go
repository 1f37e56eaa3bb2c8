package volume

import (
	"sync"

	jerrors "github.com/juju/errors"

	"github.com/pbeaman/persistit-sub015/logger"
	"github.com/pbeaman/persistit-sub015/page"
)

// deallocQueue stages logically freed pages before they are folded into
// the persistent garbage chain, so multiple frees batch into fewer chain
// mutations. Pure in-memory structure with its own lock; folding acquires
// the header claim only inside the fold callback.
type deallocQueue struct {
	mu      sync.Mutex
	entries []page.ChainEntry
}

// enqueue appends an entry. When debug is set, an entry whose Left is
// already queued is logged and dropped: no two pending records may share
// the same left page.
func (q *deallocQueue) enqueue(e page.ChainEntry, debug bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if debug {
		for _, cur := range q.entries {
			if cur.Left == e.Left {
				logger.Errorf("duplicate deferred deallocation of page %d dropped", e.Left)
				return
			}
		}
	}
	q.entries = append(q.entries, e)
}

// pop removes and returns the most recently queued entry.
func (q *deallocQueue) pop() (page.ChainEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	if n == 0 {
		return page.ChainEntry{}, false
	}
	e := q.entries[n-1]
	q.entries = q.entries[:n-1]
	return e, true
}

func (q *deallocQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// swap takes the current list, leaving an empty one so concurrent enqueues
// during a commit land in a fresh list.
func (q *deallocQueue) swap() []page.ChainEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.entries
	q.entries = nil
	return pending
}

// requeue merges unprocessed entries back into the live queue so the next
// commit retries them.
func (q *deallocQueue) requeue(remaining []page.ChainEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(remaining, q.entries...)
}

// commit folds every pending entry, most recent first, through fold. On a
// failure partway through, the unprocessed remainder is merged back into
// the live queue; entries already folded stay folded.
func (q *deallocQueue) commit(fold func(page.ChainEntry) error) error {
	pending := q.swap()
	for i := len(pending) - 1; i >= 0; i-- {
		if err := fold(pending[i]); err != nil {
			q.requeue(pending[:i+1])
			return err
		}
	}
	return nil
}

// Deallocate queues a single page for reclamation. The page joins the
// persistent garbage chain at the next flush.
func (v *Volume) Deallocate(addr int64) error {
	return v.DeallocateChain(addr, page.Solitaire)
}

// DeallocateChain queues a sibling-linked run of pages for reclamation.
// right == 0 frees the run through the natural end of the chain; a positive
// right is the exclusive end page.
func (v *Volume) DeallocateChain(left, right int64) error {
	if v.isClosed() {
		return jerrors.Trace(ErrVolumeClosed)
	}
	if v.readOnly {
		return jerrors.Annotatef(ErrReadOnlyVolume, "deallocate page %d", left)
	}
	if left <= 0 || left >= v.PageCount() {
		return jerrors.Annotatef(ErrInvalidPageAddress, "deallocate page %d of %d", left, v.PageCount())
	}
	v.dealloc.enqueue(page.ChainEntry{Left: left, Right: right}, v.debugChecks)
	return nil
}

// PendingDeallocations returns the number of staged frees not yet folded
// into the garbage chain.
func (v *Volume) PendingDeallocations() int {
	return v.dealloc.size()
}

func (v *Volume) commitDeallocations() error {
	return v.dealloc.commit(v.addGarbageChain)
}
