package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRemove(t *testing.T) {
	r := New[string]()

	r.Put("a", "alpha")
	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", got)

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"), "second remove must report absence")

	_, ok = r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestPutKeepsCreatedAt(t *testing.T) {
	r := New[int]()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	r.Put("x", 1)
	clock = clock.Add(time.Minute)
	r.Put("x", 2)

	entry, ok := r.Entry("x")
	require.True(t, ok)
	assert.Equal(t, 2, entry.Value)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), entry.CreatedAt)
	assert.Equal(t, clock, entry.UpdatedAt)
}

func TestUpdate(t *testing.T) {
	r := New[int]()

	_, ok := r.Update("missing", func(v int) int { return v + 1 })
	assert.False(t, ok)

	r.Put("n", 41)
	v, ok := r.Update("n", func(v int) int { return v + 1 })
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestConcurrentAccess(t *testing.T) {
	r := New[int]()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("id-%d", i)
			r.Put(id, i)
			r.Update(id, func(v int) int { return v * 2 })
			_ = r.List()
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Len())
	for _, v := range r.List() {
		assert.Equal(t, 0, v%2)
	}
}
