package bufferpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageTableInsertLookupRemove(t *testing.T) {
	table := NewPageTable(4)

	require.True(t, table.Insert(10, 1))
	frameID, ok := table.Lookup(10)
	require.True(t, ok)
	assert.Equal(t, uint32(1), frameID)

	removed, ok := table.Remove(10)
	require.True(t, ok)
	assert.Equal(t, uint32(1), removed)

	_, ok = table.Lookup(10)
	assert.False(t, ok)
}

func TestPageTableSingleResidency(t *testing.T) {
	table := NewPageTable(4)

	require.True(t, table.Insert(10, 1))
	assert.False(t, table.Insert(10, 2), "a page may occupy at most one frame")

	frameID, ok := table.Lookup(10)
	require.True(t, ok)
	assert.Equal(t, uint32(1), frameID, "losing insert must not clobber the binding")
}

func TestPageTableLen(t *testing.T) {
	table := NewPageTable(8)

	for i := uint64(0); i < 100; i++ {
		require.True(t, table.Insert(i, uint32(i)))
	}
	assert.Equal(t, 100, table.Len())

	for i := uint64(0); i < 50; i++ {
		table.Remove(i)
	}
	assert.Equal(t, 50, table.Len())
}

func TestPageTableConcurrentDisjoint(t *testing.T) {
	table := NewPageTable(16)

	const goroutines = 8
	const perGoroutine = 500

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := uint64(0); i < perGoroutine; i++ {
				pageNo := base*perGoroutine + i
				if !table.Insert(pageNo, uint32(pageNo)) {
					t.Errorf("insert of fresh page %d failed", pageNo)
					return
				}
				got, ok := table.Lookup(pageNo)
				if !ok || got != uint32(pageNo) {
					t.Errorf("lookup of page %d returned %d, %v", pageNo, got, ok)
					return
				}
			}
		}(uint64(g))
	}
	wg.Wait()

	assert.Equal(t, goroutines*perGoroutine, table.Len())
}

func TestPageTableConcurrentSamePage(t *testing.T) {
	table := NewPageTable(4)

	const goroutines = 16
	wins := make(chan uint32, goroutines)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			if table.Insert(77, id) {
				wins <- id
			}
		}(uint32(g))
	}
	wg.Wait()
	close(wins)

	var winners []uint32
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one inserter wins the binding")

	frameID, ok := table.Lookup(77)
	require.True(t, ok)
	assert.Equal(t, winners[0], frameID)
}
