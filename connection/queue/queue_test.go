package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	for i := 0; i < 5; i++ {
		item, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, item)
	}

	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestPopTimesOutOnEmptyQueue(t *testing.T) {
	q := New[string]()

	start := time.Now()
	_, ok := q.Pop(50 * time.Millisecond)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPopWakesOnPush(t *testing.T) {
	q := New[string]()

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push("late arrival")
	}()

	item, ok := q.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, "late arrival", item)
}

func TestConcurrentReadersEachGetAnItem(t *testing.T) {
	q := New[int]()

	const readers = 4
	results := make(chan int, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if item, ok := q.Pop(2 * time.Second); ok {
				results <- item
			}
		}()
	}

	for i := 0; i < readers; i++ {
		q.Push(i)
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for item := range results {
		seen[item] = true
	}
	assert.Len(t, seen, readers)
}

func TestDrainEmptiesQueue(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)

	drained := q.Drain()

	assert.Equal(t, []int{1, 2}, drained)
	assert.Equal(t, 0, q.Len())
}
