package distqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosestFirstPopsAscending(t *testing.T) {
	q := &DistQueueClosestFirst{Size: 4}
	for i, d := range []float32{5, 1, 4, 2, 3} {
		q.Push(uint32(i), d)
	}
	require.Equal(t, 5, q.Len())

	id, d := q.Top()
	assert.Equal(t, uint32(1), id)
	assert.Equal(t, float32(1), d)

	var got []float32
	for q.Len() > 0 {
		got = append(got, q.Pop().D)
	}
	assert.Equal(t, []float32{1, 2, 3, 4, 5}, got)
	assert.Nil(t, q.Pop())
}

func TestClosestLastPopsDescending(t *testing.T) {
	q := &DistQueueClosestLast{}
	for i, d := range []float32{2, 9, 0, 7} {
		q.Push(uint32(i), d)
	}

	_, worst := q.Top()
	assert.Equal(t, float32(9), worst)

	var got []float32
	for q.Len() > 0 {
		got = append(got, q.Pop().D)
	}
	assert.Equal(t, []float32{9, 7, 2, 0}, got)
}

func TestClosestLastPopAndPushReplacesWorst(t *testing.T) {
	q := &DistQueueClosestLast{Size: 3}
	q.Push(1, 1)
	q.Push(2, 8)
	q.Push(3, 4)

	q.PopAndPush(4, 2)

	require.Equal(t, 3, q.Len())
	id, d := q.Top()
	assert.Equal(t, uint32(3), id)
	assert.Equal(t, float32(4), d)
}

func TestResetKeepsQueueUsable(t *testing.T) {
	q := &DistQueueClosestFirst{}
	q.Reset()
	assert.Equal(t, 0, q.Len())

	q.Push(1, 3)
	q.Reset()
	assert.Equal(t, 0, q.Len())

	q.Push(2, 1)
	assert.Equal(t, uint32(2), q.Pop().ID)
}
