package conn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corenet/p2p/enode"
)

func TestAdmissionEnforcesMaxConnections(t *testing.T) {
	bans := NewBanList()
	mgr := NewManager(enode.ID{1}, ManagerConfig{MaxConnections: 1}, bans)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	_, reason := mgr.Accept(fakeConn{c2, "1.2.3.4:1"})
	require.Equal(t, AdmitOK, reason)

	c3, c4 := net.Pipe()
	defer c3.Close()
	defer c4.Close()
	_, reason2 := mgr.Accept(fakeConn{c4, "5.6.7.8:1"})
	require.Equal(t, AdmitTooManyPeers, reason2)
}

func TestAdmissionEnforcesSameIPCap(t *testing.T) {
	bans := NewBanList()
	mgr := NewManager(enode.ID{1}, ManagerConfig{MaxConnections: 10, MaxConnectionsSameIP: 1}, bans)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	_, reason := mgr.Accept(fakeConn{c2, "9.9.9.9:100"})
	require.Equal(t, AdmitOK, reason)

	c3, c4 := net.Pipe()
	defer c3.Close()
	defer c4.Close()
	_, reason2 := mgr.Accept(fakeConn{c4, "9.9.9.9:200"})
	require.Equal(t, AdmitDuplicatePeer, reason2)
}

func TestAdmissionRejectsBannedIP(t *testing.T) {
	bans := NewBanList()
	bans.Ban("2.2.2.2", time.Minute, time.Now())
	mgr := NewManager(enode.ID{1}, ManagerConfig{MaxConnections: 10}, bans)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	_, reason := mgr.Accept(fakeConn{c2, "2.2.2.2:1"})
	require.Equal(t, AdmitBanned, reason)
}

func TestNoDuplicateChannelEndpoints(t *testing.T) {
	bans := NewBanList()
	mgr := NewManager(enode.ID{1}, ManagerConfig{MaxConnections: 10, MaxConnectionsSameIP: 10}, bans)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	ch1, reason := mgr.Accept(fakeConn{c2, "3.3.3.3:1"})
	require.Equal(t, AdmitOK, reason)
	require.NotNil(t, ch1)

	c3, c4 := net.Pipe()
	defer c3.Close()
	defer c4.Close()
	_, reason2 := mgr.Accept(fakeConn{c4, "3.3.3.3:1"})
	require.Equal(t, AdmitDuplicatePeer, reason2)
	require.Equal(t, 1, mgr.Len())
}
