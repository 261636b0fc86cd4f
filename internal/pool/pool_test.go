package pool_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"babevm/internal/pool"
)

func TestPutGetRoundTrip(t *testing.T) {
	p := pool.New[string, int](pool.FNV1a64)
	p.Put("alpha", 1)
	p.Put("beta", 2)

	v, ok := p.Get("alpha")
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = p.Get("missing")
	require.False(t, ok)
}

func TestPutOverwritesExistingKey(t *testing.T) {
	p := pool.New[string, int](pool.FNV1a64)
	p.Put("k", 1)
	p.Put("k", 2)
	require.Equal(t, 1, p.Len())
	v, _ := p.Get("k")
	require.Equal(t, 2, v)
}

func TestGrowPreservesAllEntries(t *testing.T) {
	p := pool.New[string, int](pool.FNV1a64)
	const n = 500
	for i := 0; i < n; i++ {
		p.Put(fmt.Sprintf("key-%d", i), i)
	}
	require.Equal(t, n, p.Len())
	for i := 0; i < n; i++ {
		v, ok := p.Get(fmt.Sprintf("key-%d", i))
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	p := pool.New[string, int](pool.FNV1a64)
	p.Put("a", 1)
	p.Put("b", 2)
	p.Delete("a")
	_, ok := p.Get("a")
	require.False(t, ok)
	require.Equal(t, 1, p.Len())
}

func TestClearEmptiesTable(t *testing.T) {
	p := pool.New[string, int](pool.FNV1a64)
	p.Put("a", 1)
	p.Clear()
	require.Equal(t, 0, p.Len())
	_, ok := p.Get("a")
	require.False(t, ok)
}

func TestEachVisitsEveryEntry(t *testing.T) {
	p := pool.New[string, int](pool.FNV1a64)
	want := map[string]int{"a": 1, "b": 2, "c": 3}
	for k, v := range want {
		p.Put(k, v)
	}
	got := map[string]int{}
	p.Each(func(k string, v int) { got[k] = v })
	require.Equal(t, want, got)
}

func TestNewSizedWithExplicitBucketCountBehavesLikeNew(t *testing.T) {
	p := pool.NewSized[string, int](pool.FNV1a64, 4)
	p.Put("a", 1)
	p.Put("b", 2)
	v, ok := p.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.Equal(t, 2, p.Len())
}

func TestNewSizedFallsBackToDefaultOnNonPositiveCount(t *testing.T) {
	p := pool.NewSized[string, int](pool.FNV1a64, 0)
	p.Put("a", 1)
	v, ok := p.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
}
