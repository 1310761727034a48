package state

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	n         int
	evictable bool
}

func (c *counter) CanDestroy() bool { return c.evictable }

func (c *counter) Snapshot() (map[string][]byte, error) {
	return map[string][]byte{"Counter": {byte(c.n)}}, nil
}

func (c *counter) Prepare(m map[string][]byte) (func(), error) {
	b, ok := m["Counter"]
	if !ok || len(b) != 1 {
		return nil, errors.New("bad counter snapshot")
	}
	return func() { c.n = int(b[0]) }, nil
}

func TestPartitionKey(t *testing.T) {
	assert.Equal(t, DefaultPartition, PartitionKey(context.Background()))
	assert.Equal(t, "p1", PartitionKey(WithPartitionKey(context.Background(), "p1")))
}

func TestHolderLazyPerPartition(t *testing.T) {
	created := 0
	h := NewHolder(func() *counter {
		created++
		return &counter{}
	})

	ctxA := WithPartitionKey(context.Background(), "a")
	ctxB := WithPartitionKey(context.Background(), "b")

	a := h.Get(ctxA)
	a.n = 5
	h.Return(ctxA, a)

	again := h.Get(ctxA)
	assert.Same(t, a, again)
	h.Return(ctxA, again)

	b := h.Get(ctxB)
	h.Return(ctxB, b)
	assert.NotSame(t, a, b)

	assert.Equal(t, 2, created)
	assert.Equal(t, []string{"a", "b"}, h.Partitions())
}

func TestHolderNeverEvictsPersistentState(t *testing.T) {
	h := NewHolder(func() *counter { return &counter{} })
	ctx := context.Background()

	s := h.Get(ctx)
	s.n = 3
	h.Return(ctx, s)
	h.Return(ctx, s)

	assert.Equal(t, 3, h.Get(ctx).n)
}

func TestHolderEvictsDestroyableState(t *testing.T) {
	h := NewHolder(func() *counter { return &counter{evictable: true} })
	ctx := context.Background()

	first := h.Get(ctx)
	second := h.Get(ctx)
	h.Return(ctx, first)
	assert.Len(t, h.Partitions(), 1)
	h.Return(ctx, second)
	assert.Empty(t, h.Partitions())
}

func TestScopeReturnsOnError(t *testing.T) {
	h := NewHolder(func() *counter { return &counter{evictable: true} })
	boom := errors.New("boom")

	err := Scope(context.Background(), h, func(c *counter) error {
		assert.Len(t, h.Partitions(), 1)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.Partitions())
}

func TestScopeReturnsOnPanic(t *testing.T) {
	h := NewHolder(func() *counter { return &counter{evictable: true} })

	assert.Panics(t, func() {
		_ = Scope(context.Background(), h, func(*counter) error { panic("boom") })
	})
	assert.Empty(t, h.Partitions())
}

func TestSnapshotRestore(t *testing.T) {
	src := NewHolder(func() *counter { return &counter{} })
	for i, key := range []string{"a", "b"} {
		ctx := WithPartitionKey(context.Background(), key)
		require.NoError(t, Scope(ctx, src, func(c *counter) error {
			c.n = i + 1
			return nil
		}))
	}

	snap, err := src.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, Snapshot{
		"a": {"Counter": {1}},
		"b": {"Counter": {2}},
	}, snap)

	dst := NewHolder(func() *counter { return &counter{} })
	require.NoError(t, dst.Restore(snap))
	assert.Equal(t, []string{"a", "b"}, dst.Partitions())
	assert.Equal(t, 2, dst.Get(WithPartitionKey(context.Background(), "b")).n)

	err = dst.Restore(Snapshot{"c": {"Other": nil}})
	assert.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, dst.Partitions())
}

func TestRestoreIsAllOrNothing(t *testing.T) {
	h := NewHolder(func() *counter { return &counter{} })
	ctxA := WithPartitionKey(context.Background(), "a")
	require.NoError(t, Scope(ctxA, h, func(c *counter) error {
		c.n = 7
		return nil
	}))

	// "a" sorts before the broken "b" and would be restored first.
	err := h.Restore(Snapshot{
		"a": {"Counter": {1}},
		"b": {"Counter": {1, 2}},
		"c": {"Counter": {3}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `partition "b"`)

	assert.Equal(t, []string{"a"}, h.Partitions())
	assert.Equal(t, 7, h.Get(ctxA).n)
	h.Return(ctxA, nil)
}

func TestPrepareStagesUntilCommit(t *testing.T) {
	h := NewHolder(func() *counter { return &counter{} })
	ctxA := WithPartitionKey(context.Background(), "a")
	a := h.Get(ctxA)
	a.n = 7
	h.Return(ctxA, a)

	commit, err := h.Prepare(Snapshot{
		"a": {"Counter": {1}},
		"b": {"Counter": {2}},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, a.n)
	assert.Equal(t, []string{"a"}, h.Partitions())

	commit()
	assert.Equal(t, 1, a.n)
	assert.Equal(t, []string{"a", "b"}, h.Partitions())
	assert.Equal(t, 2, h.Get(WithPartitionKey(context.Background(), "b")).n)
}

func TestHolderConcurrentGet(t *testing.T) {
	h := NewHolder(func() *counter { return &counter{} })
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*counter, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := h.Get(ctx)
			defer h.Return(ctx, s)
			results[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		assert.Same(t, results[0], s)
	}
}
