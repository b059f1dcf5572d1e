package stream

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueIsFIFO(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		v, err := q.Next()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestQueueDrainsAfterClose(t *testing.T) {
	q := NewQueue[string]()
	require.NoError(t, q.Push("a"))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Push("b"), ErrQueueClosed)

	v, err := q.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, err = q.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestQueueNextBlocksUntilPush(t *testing.T) {
	q := NewQueue[int]()

	var wg sync.WaitGroup
	var got []int
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			v, err := q.Next()
			if err != nil {
				return
			}
			got = append(got, v)
		}
	}()

	for i := 0; i < 100; i++ {
		require.NoError(t, q.Push(i))
	}
	q.Close()
	wg.Wait()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}
