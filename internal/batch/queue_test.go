package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queuedPages(n int) []*Page {
	pages := make([]*Page, n)
	for i := range pages {
		pages[i] = newPage(nil, i+1, nil)
	}
	return pages
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(10)
	pages := queuedPages(3)
	for _, p := range pages {
		q.Push(p)
	}

	for _, want := range pages {
		got, err := q.Dequeue()
		require.NoError(t, err)
		assert.Same(t, want, got)
	}
	_, err := q.Dequeue()
	assert.ErrorIs(t, err, errQueueEmpty)
	assert.Equal(t, 3, q.InFlight())
}

func TestQueueRequeuesHeadAtCapacity(t *testing.T) {
	q := NewQueue(1)
	pages := queuedPages(3)
	for _, p := range pages {
		q.Push(p)
	}

	first, err := q.Dequeue()
	require.NoError(t, err)
	assert.Same(t, pages[0], first)

	_, err = q.Dequeue()
	assert.ErrorIs(t, err, errAtCapacity)
	assert.Equal(t, 2, q.Len())

	q.Done()
	second, err := q.Dequeue()
	require.NoError(t, err)
	assert.Same(t, pages[1], second, "requeued head keeps its place")
}

func TestQueueRemoveAndDrain(t *testing.T) {
	q := NewQueue(2)
	pages := queuedPages(4)
	for _, p := range pages {
		q.Push(p)
	}

	assert.True(t, q.Remove(pages[1].ID()))
	assert.False(t, q.Remove("missing"))
	assert.Equal(t, 3, q.Len())

	q.PushFront(pages[1])
	head, err := q.Dequeue()
	require.NoError(t, err)
	assert.Same(t, pages[1], head)

	drained := q.Drain()
	require.Len(t, drained, 3)
	assert.Same(t, pages[0], drained[0])
	assert.Same(t, pages[2], drained[1])
	assert.Same(t, pages[3], drained[2])
	assert.Equal(t, 0, q.Len())
}

func TestPriorityBySequence(t *testing.T) {
	assert.Equal(t, PriorityHigh, priorityFor(1))
	assert.Equal(t, PriorityHigh, priorityFor(5))
	assert.Equal(t, PriorityMedium, priorityFor(6))
	assert.Equal(t, PriorityMedium, priorityFor(20))
	assert.Equal(t, PriorityLow, priorityFor(21))
}
