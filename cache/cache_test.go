package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheStoreAndGet(t *testing.T) {
	c := New[string]()
	require.Equal(t, "", c.Get("missing"))

	c.Store("job1", "value1")
	require.Equal(t, "value1", c.Get("job1"))

	c.Store("job1", "value2")
	require.Equal(t, "value2", c.Get("job1"))
}

func TestCacheRemove(t *testing.T) {
	c := New[int]()
	c.Store("job1", 42)
	c.Remove("job1")
	require.Equal(t, 0, c.Get("job1"))

	// removing a missing key is a no-op
	c.Remove("never-stored")
}

func TestCacheGetKeys(t *testing.T) {
	c := New[bool]()
	require.Empty(t, c.GetKeys())

	c.Store("a", true)
	c.Store("b", true)
	require.ElementsMatch(t, []string{"a", "b"}, c.GetKeys())
}

func TestCacheClear(t *testing.T) {
	c := New[string]()
	c.Store("a", "1")
	c.Store("b", "2")
	c.Clear()
	require.Empty(t, c.GetKeys())
	require.Equal(t, "", c.Get("a"))
}
