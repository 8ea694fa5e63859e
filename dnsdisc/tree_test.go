package dnsdisc

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/corenet/p2p/enode"
)

var errNotFound = errors.New("dnsdisc test: name not found")

func sampleNode(port uint16) *enode.Node {
	return &enode.Node{
		HasID:          true,
		ID:             enode.ID{byte(port)},
		NetworkID:      1,
		NetworkVersion: 1,
		Endpoint:       enode.Endpoint{IPv4: []byte{127, 0, 0, 1}, Port: port},
	}
}

func TestBuildAndResolveRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var nodes []*enode.Node
	for i := 0; i < 12; i++ {
		nodes = append(nodes, sampleNode(uint16(30000+i)))
	}

	cfg := PublisherConfig{Domain: "nodes.example.org", MaxMerge: 5}
	built := Build(priv, cfg, nodes, nil, 1)

	lookup := func(_ context.Context, name string) (string, error) {
		vals, ok := built.ByName[name]
		if !ok {
			return "", errNotFound
		}
		return vals[0], nil
	}

	client := NewClient(lookup)
	got, err := client.ResolveTree(context.Background(), cfg.Domain, priv.PubKey())
	require.NoError(t, err)
	require.Len(t, got, len(nodes))
}

func TestResolveRejectsBadSignature(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	cfg := PublisherConfig{Domain: "nodes.example.org", MaxMerge: 5}
	built := Build(priv, cfg, []*enode.Node{sampleNode(1)}, nil, 1)

	lookup := func(_ context.Context, name string) (string, error) {
		vals, ok := built.ByName[name]
		if !ok {
			return "", errNotFound
		}
		return vals[0], nil
	}
	client := NewClient(lookup)
	_, err = client.ResolveTree(context.Background(), cfg.Domain, other.PubKey())
	require.ErrorIs(t, err, ErrBadRootSig)
}

func TestResolveRejectsSeqRegression(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	cfg := PublisherConfig{Domain: "nodes.example.org", MaxMerge: 5}

	built2 := Build(priv, cfg, []*enode.Node{sampleNode(1)}, nil, 2)
	lookup := func(_ context.Context, name string) (string, error) {
		vals, ok := built2.ByName[name]
		if !ok {
			return "", errNotFound
		}
		return vals[0], nil
	}
	client := NewClient(lookup)
	_, err = client.ResolveTree(context.Background(), cfg.Domain, priv.PubKey())
	require.NoError(t, err)

	built1 := Build(priv, cfg, []*enode.Node{sampleNode(1)}, nil, 1)
	client.lookup = func(_ context.Context, name string) (string, error) {
		vals, ok := built1.ByName[name]
		if !ok {
			return "", errNotFound
		}
		return vals[0], nil
	}
	_, err = client.ResolveTree(context.Background(), cfg.Domain, priv.PubKey())
	require.ErrorIs(t, err, ErrSeqNotMonotone)
}

func TestBuildPlanThreshold(t *testing.T) {
	current := map[string][]string{}
	for i := 0; i < 100; i++ {
		current[itoaName(i)] = []string{"v"}
	}
	desired := map[string][]string{}
	for k, v := range current {
		desired[k] = v
	}
	for i := 100; i < 103; i++ {
		desired[itoaName(i)] = []string{"v"}
	}
	_, ok := BuildPlan(current, desired, 0.1)
	require.False(t, ok, "3/100 added should be below the 0.1 threshold")

	for i := 103; i < 123; i++ {
		desired[itoaName(i)] = []string{"v"}
	}
	for i := 0; i < 5; i++ {
		delete(desired, itoaName(i))
	}
	plan, ok := BuildPlan(current, desired, 0.1)
	require.True(t, ok)
	require.NotEmpty(t, plan)
	// creates before deletes
	sawDelete := false
	for _, op := range plan {
		if op.Kind == OpDelete {
			sawDelete = true
		} else if sawDelete {
			t.Fatalf("create/upsert op %v found after a delete op", op)
		}
	}
}

func itoaName(i int) string { return "n" + itoa(i) + ".example.org" }
