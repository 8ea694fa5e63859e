package p2p

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewServiceDerivesIdentity(t *testing.T) {
	s, err := New(Config{NetworkID: 7, NetworkVersion: 1})
	require.NoError(t, err)
	require.NotNil(t, s.Table)
	require.NotNil(t, s.Bans)
	require.NotNil(t, s.Handlers)
	require.NotEqual(t, [20]byte{}, s.home, "identity derivation should not produce an all-zero id")
}

func TestParseStaticNodesSkipsMalformed(t *testing.T) {
	nodes := parseStaticNodes([]string{"127.0.0.1:30303", "not-an-addr", "::1:30304"})
	require.Len(t, nodes, 1)
	require.Equal(t, uint16(30303), nodes[0].Endpoint.Port)
}

func TestParseTreeURL(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	_ = s

	_, _, err = parseTreeURL("not-a-tree-url")
	require.Error(t, err)
}
