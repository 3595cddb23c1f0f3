package forwarder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityQueue(t *testing.T) {
	t.Run("orders by priority", func(t *testing.T) {
		pq := newPriorityQueue()
		pq.Update([]Proposer{
			{Address: []byte("node1"), Priority: 2},
			{Address: []byte("node2"), Priority: 1},
			{Address: []byte("node3"), Priority: 3},
		})
		ordered := pq.GetAll()

		assert.Equal(t, "node2", string(ordered[0].Address))
		assert.Equal(t, "node1", string(ordered[1].Address))
		assert.Equal(t, "node3", string(ordered[2].Address))
	})

	t.Run("orders by height when priority equal", func(t *testing.T) {
		pq := newPriorityQueue()
		pq.Update([]Proposer{
			{Address: []byte("node1"), Priority: 1, Height: 2},
			{Address: []byte("node2"), Priority: 1, Height: 1},
			{Address: []byte("node3"), Priority: 1, Height: 3},
		})
		ordered := pq.GetAll()

		assert.Equal(t, "node2", string(ordered[0].Address))
		assert.Equal(t, "node1", string(ordered[1].Address))
		assert.Equal(t, "node3", string(ordered[2].Address))
	})

	t.Run("orders by round when priority and height equal", func(t *testing.T) {
		pq := newPriorityQueue()
		pq.Update([]Proposer{
			{Address: []byte("node1"), Priority: 1, Height: 1, Round: 2},
			{Address: []byte("node2"), Priority: 1, Height: 1, Round: 1},
			{Address: []byte("node3"), Priority: 1, Height: 1, Round: 3},
		})
		ordered := pq.GetAll()

		assert.Equal(t, "node2", string(ordered[0].Address))
		assert.Equal(t, "node1", string(ordered[1].Address))
		assert.Equal(t, "node3", string(ordered[2].Address))

		head, ok := pq.Head()
		assert.True(t, ok)
		assert.Equal(t, "node2", string(head.Address))
	})

	t.Run("handles update replacing existing", func(t *testing.T) {
		pq := newPriorityQueue()
		pq.Update([]Proposer{
			{Address: []byte("node1"), Priority: 1},
			{Address: []byte("node2"), Priority: 2},
		})
		pq.Update([]Proposer{
			{Address: []byte("node3"), Priority: 1},
			{Address: []byte("node4"), Priority: 2},
		})

		result := pq.GetAll()
		assert.Equal(t, 2, len(result))
		assert.Equal(t, "node3", string(result[0].Address))
		assert.Equal(t, "node4", string(result[1].Address))
	})

	t.Run("empty queue has no head", func(t *testing.T) {
		_, ok := newPriorityQueue().Head()
		assert.False(t, ok)
	})
}
