package actorstate_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/argus/internal/actorstate"
)

type counter struct{ n int }

func TestRegistryWithCreatesAndReuses(t *testing.T) {
	r := actorstate.New(4, func() *counter { return &counter{} })

	r.With("alice", func(c *counter) { c.n++ })
	r.With("alice", func(c *counter) { c.n++ })
	r.With("bob", func(c *counter) { c.n += 10 })

	var got int
	require.True(t, r.Peek("alice", func(c *counter) { got = c.n }))
	assert.Equal(t, 2, got)
	assert.False(t, r.Peek("carol", func(*counter) {}))
	assert.Equal(t, 2, r.Len())
}

func TestRegistrySerializesPerActor(t *testing.T) {
	r := actorstate.New(8, func() *counter { return &counter{} })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.With(fmt.Sprintf("actor-%d", i%5), func(c *counter) { c.n++ })
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 5; i++ {
		r.Peek(fmt.Sprintf("actor-%d", i), func(c *counter) { total += c.n })
	}
	assert.Equal(t, 5000, total)
}

func TestRegistrySweepAndDelete(t *testing.T) {
	r := actorstate.New(0, func() *counter { return &counter{} })
	for i := 0; i < 10; i++ {
		r.With(fmt.Sprintf("a%d", i), func(c *counter) { c.n = i })
	}

	removed := r.Sweep(func(_ string, c *counter) bool { return c.n%2 == 0 })
	assert.Equal(t, 5, removed)
	assert.Equal(t, 5, r.Len())

	r.Delete("a1")
	assert.Equal(t, 4, r.Len())
}
