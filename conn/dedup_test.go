package conn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRotatingBloomDetectsDuplicates(t *testing.T) {
	rb := NewRotatingBloom(1000, 0.01)
	id := []byte("message-one")

	require.False(t, rb.CheckAndAdd(id))
	require.True(t, rb.CheckAndAdd(id))
	require.Equal(t, int64(1), rb.Duplicates())
	require.Equal(t, int64(1), rb.Unique())
}

func TestRotatingBloomRotateClearsMembership(t *testing.T) {
	rb := NewRotatingBloom(1000, 0.01)
	id := []byte("message-two")
	require.False(t, rb.CheckAndAdd(id))
	rb.Rotate()
	require.False(t, rb.CheckAndAdd(id), "after rotation the new generation should not remember prior members")
}

func TestSourceCacheRecordAndExpire(t *testing.T) {
	now := time.Now()
	sc := NewSourceCache(10, time.Minute)
	sc.Record("m1", "chanA", now)

	ch, ok := sc.Get("m1", now.Add(30*time.Second))
	require.True(t, ok)
	require.Equal(t, "chanA", ch)

	_, ok = sc.Get("m1", now.Add(2*time.Minute))
	require.False(t, ok)
}

func TestSourceCacheEvictsOldestAtCapacity(t *testing.T) {
	now := time.Now()
	sc := NewSourceCache(2, time.Hour)
	sc.Record("m1", "a", now)
	sc.Record("m2", "b", now)
	sc.Record("m3", "c", now)

	_, ok := sc.Get("m1", now)
	require.False(t, ok, "oldest entry should have been evicted")
	_, ok = sc.Get("m3", now)
	require.True(t, ok)
}
