package discover

import (
	"testing"
	"time"

	"github.com/corenet/p2p/enode"
	"github.com/stretchr/testify/require"
)

func idWithByte(b byte) enode.ID {
	var id enode.ID
	id[0] = b
	return id
}

func nodeWithID(id enode.ID, port uint16) *enode.Node {
	return &enode.Node{ID: id, HasID: true, Endpoint: enode.Endpoint{IPv4: []byte{127, 0, 0, byte(port % 250) + 1}, Port: port}}
}

func TestBucketCapacity(t *testing.T) {
	home := enode.ID{}
	table := NewTable(home)
	now := time.Now()

	target := idWithByte(0x80) // bucket index = distance(home, target)
	for i := 0; i < BucketSize; i++ {
		id := target
		id[19] = byte(i + 1)
		ok, evict := table.Insert(nodeWithID(id, uint16(30000+i)), now)
		require.True(t, ok)
		require.Nil(t, evict)
	}
	idx := table.BucketIndex(target)
	require.Equal(t, BucketSize, table.BucketLen(idx))

	// K+1th insert into a full, fresh bucket: dropped, no stale candidate.
	extra := target
	extra[19] = 0xEE
	ok, evict := table.Insert(nodeWithID(extra, 30100), now)
	require.False(t, ok)
	require.Nil(t, evict)

	// After staleness window, insert returns the oldest as eviction candidate.
	ok, evict = table.Insert(nodeWithID(extra, 30100), now.Add(BucketStale+time.Second))
	require.False(t, ok)
	require.NotNil(t, evict)
}

func TestDistanceBucketInvariant(t *testing.T) {
	home := enode.ID{}
	table := NewTable(home)
	now := time.Now()

	for b := 0; b < 8; b++ {
		id := enode.ID{}
		id[0] = 1 << uint(7-b) // flips bit b of the first byte
		ok, _ := table.Insert(nodeWithID(id, uint16(31000+b)), now)
		require.True(t, ok)
		expected := enode.LogDistance(home, id)
		require.Equal(t, expected, table.BucketIndex(id))
	}
}

func TestClosestOrdering(t *testing.T) {
	home := enode.ID{}
	table := NewTable(home)
	now := time.Now()

	target := idWithByte(0x10)
	var ids []enode.ID
	for i := 1; i <= 5; i++ {
		id := target
		id[19] = byte(i)
		ids = append(ids, id)
		_, _ = table.Insert(nodeWithID(id, uint16(32000+i)), now)
	}
	closest := table.Closest(target, 3)
	require.Len(t, closest, 3)
	for i := 1; i < len(closest); i++ {
		require.LessOrEqual(t, enode.DistanceCmp(target, closest[i-1].ID, closest[i].ID), 0)
	}
}
