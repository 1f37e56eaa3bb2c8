package latch

import "sync"

// Claim is the lock held on a page or tree for the duration of a structural
// mutation. A claim is either shared (many readers) or exclusive (one
// writer). Callers that cannot block use the non-blocking form and receive
// false when the resource is already held.
type Claim struct {
	mu sync.RWMutex
}

// NewClaim creates a new claim.
func NewClaim() *Claim {
	return &Claim{}
}

// ClaimExclusive acquires the claim exclusively. When block is false the
// attempt fails immediately if any holder exists.
func (c *Claim) ClaimExclusive(block bool) bool {
	if block {
		c.mu.Lock()
		return true
	}
	return c.mu.TryLock()
}

// ClaimShared acquires the claim in shared mode.
func (c *Claim) ClaimShared(block bool) bool {
	if block {
		c.mu.RLock()
		return true
	}
	return c.mu.TryRLock()
}

// Release releases an exclusive claim.
func (c *Claim) Release() {
	c.mu.Unlock()
}

// ReleaseShared releases a shared claim.
func (c *Claim) ReleaseShared() {
	c.mu.RUnlock()
}
