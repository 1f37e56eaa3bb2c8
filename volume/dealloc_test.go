package volume

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbeaman/persistit-sub015/page"
)

func TestDeallocQueueOrder(t *testing.T) {
	var q deallocQueue
	q.enqueue(page.ChainEntry{Left: 1, Right: page.Solitaire}, false)
	q.enqueue(page.ChainEntry{Left: 2, Right: page.Solitaire}, false)
	q.enqueue(page.ChainEntry{Left: 3, Right: 7}, false)
	require.Equal(t, 3, q.size())

	e, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, int64(3), e.Left)

	e, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, int64(2), e.Left)

	q.pop()
	_, ok = q.pop()
	assert.False(t, ok)
}

func TestDeallocQueueDuplicateDropped(t *testing.T) {
	var q deallocQueue
	q.enqueue(page.ChainEntry{Left: 5, Right: page.Solitaire}, true)
	q.enqueue(page.ChainEntry{Left: 5, Right: 0}, true)
	assert.Equal(t, 1, q.size())

	// Without debug checks the duplicate is accepted.
	q.enqueue(page.ChainEntry{Left: 5, Right: 0}, false)
	assert.Equal(t, 2, q.size())
}

func TestDeallocQueueCommit(t *testing.T) {
	var q deallocQueue
	for i := int64(1); i <= 4; i++ {
		q.enqueue(page.ChainEntry{Left: i, Right: page.Solitaire}, false)
	}

	var folded []int64
	err := q.commit(func(e page.ChainEntry) error {
		folded = append(folded, e.Left)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3, 2, 1}, folded)
	assert.Equal(t, 0, q.size())
}

func TestDeallocQueueCommitPartialFailure(t *testing.T) {
	var q deallocQueue
	for i := int64(1); i <= 4; i++ {
		q.enqueue(page.ChainEntry{Left: i, Right: page.Solitaire}, false)
	}

	boom := errors.New("fold failed")
	var folded []int64
	err := q.commit(func(e page.ChainEntry) error {
		if e.Left == 2 {
			return boom
		}
		folded = append(folded, e.Left)
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int64{4, 3}, folded)

	// Unprocessed entries stay queued for the next commit.
	assert.Equal(t, 2, q.size())
	e, _ := q.pop()
	assert.Equal(t, int64(2), e.Left)
	e, _ = q.pop()
	assert.Equal(t, int64(1), e.Left)
}

func TestDeallocQueueCommitKeepsConcurrentEnqueues(t *testing.T) {
	var q deallocQueue
	q.enqueue(page.ChainEntry{Left: 1, Right: page.Solitaire}, false)
	q.enqueue(page.ChainEntry{Left: 2, Right: page.Solitaire}, false)

	err := q.commit(func(e page.ChainEntry) error {
		if e.Left == 2 {
			// Folding page 2 surfaces a further free, as harvesting does.
			q.enqueue(page.ChainEntry{Left: 9, Right: page.Solitaire}, false)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, q.size())
	e, _ := q.pop()
	assert.Equal(t, int64(9), e.Left)
}
