package bufferpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatchOptimisticReadValidates(t *testing.T) {
	var l HybridLatch

	v, ok := l.ReadVersion()
	require.True(t, ok)
	assert.True(t, l.Validate(v), "no writer means the version holds")
}

func TestLatchWriterInvalidatesReaders(t *testing.T) {
	var l HybridLatch

	v, ok := l.ReadVersion()
	require.True(t, ok)

	l.Lock()
	_, okDuring := l.ReadVersion()
	assert.False(t, okDuring, "version is odd while a writer is active")
	l.Unlock()

	assert.False(t, l.Validate(v), "a completed write invalidates earlier reads")
}

func TestLatchReadRunsFunction(t *testing.T) {
	var l HybridLatch

	ran := false
	optimistic := l.Read(8, func() { ran = true })
	assert.True(t, ran)
	assert.True(t, optimistic, "uncontended read stays on the fast path")
}

func TestLatchReadEscalatesUnderWriter(t *testing.T) {
	var l HybridLatch

	l.Lock()
	done := make(chan bool, 1)
	go func() {
		// Spins out its retries against the held write latch, then blocks
		// on the shared lock until the writer releases.
		done <- l.Read(4, func() {})
	}()

	l.Unlock()
	optimistic := <-done
	// Either outcome is correct depending on timing; the point is the read
	// completed instead of spinning forever.
	_ = optimistic
}

func TestLatchConcurrentCounter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping latch stress test in short mode")
	}

	var l HybridLatch
	counter := 0

	const writers = 4
	const increments = 2000

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < increments; i++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}

	// Concurrent readers must always observe a consistent snapshot.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				var snapshot int
				l.Read(16, func() { snapshot = counter })
				if snapshot < 0 || snapshot > writers*increments {
					t.Errorf("torn read survived validation: %d", snapshot)
					return
				}
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()

	assert.Equal(t, writers*increments, counter)
}
