package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelizeCoversEveryItemOnce(t *testing.T) {
	for _, tc := range []struct {
		name    string
		items   int
		workers int
	}{
		{"more workers than items", 3, 8},
		{"uneven split", 101, 4},
		{"single worker", 17, 1},
		{"default workers", 1000, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			seen := make([]int32, tc.items)
			Parallelize(tc.items, tc.workers, func(start, end int) {
				for i := start; i < end; i++ {
					atomic.AddInt32(&seen[i], 1)
				}
			})
			for i, n := range seen {
				assert.Equal(t, int32(1), n, "item %d", i)
			}
		})
	}
}

func TestParallelizeNoItems(t *testing.T) {
	called := false
	Parallelize(0, 4, func(start, end int) { called = true })
	ParallelizeWithThreshold(0, 10, 4, func(start, end int) { called = true })
	assert.False(t, called)
}

func TestParallelizeWithThresholdSequential(t *testing.T) {
	var calls int32
	ParallelizeWithThreshold(5, 10, 4, func(start, end int) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, 0, start)
		assert.Equal(t, 5, end)
	})
	assert.Equal(t, int32(1), calls)
}
