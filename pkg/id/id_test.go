package id

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	s := NewULID()
	assert.Len(t, s, 26)
	assert.True(t, IsValidULID(s))
}

func TestNewULIDMonotonic(t *testing.T) {
	prev := NewULID()
	for i := 0; i < 1000; i++ {
		next := NewULID()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestNewULIDConcurrent(t *testing.T) {
	const (
		goroutines = 10
		perG       = 100
	)

	var (
		mu  sync.Mutex
		ids = make(map[string]struct{}, goroutines*perG)
		wg  sync.WaitGroup
	)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				s := NewULID()
				mu.Lock()
				ids[s] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, goroutines*perG)
}

func TestULIDTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	s := NewULID()
	after := time.Now().Add(time.Second)

	ts, err := ULIDTime(s)
	require.NoError(t, err)
	assert.True(t, ts.After(before) && ts.Before(after))

	_, err = ULIDTime("not-a-ulid")
	assert.Error(t, err)
}

func TestNewUUID(t *testing.T) {
	s := NewUUID()
	assert.Len(t, s, 36)
	assert.True(t, IsValidUUID(s))
	assert.False(t, IsValidUUID("nope"))
}
