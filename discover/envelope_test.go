package discover

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/corenet/p2p/enode"
)

func TestSealOpenPacketRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	body := []byte{wireCodeStub, 1, 2, 3}
	sealed := sealPacket(priv, body)

	pub, gotBody, err := openPacket(sealed)
	require.NoError(t, err)
	require.Equal(t, body, gotBody)

	wantID := enode.PublicKeyToID(priv.PubKey())
	gotID := enode.PublicKeyToID(pub)
	require.Equal(t, wantID, gotID)
}

func TestOpenPacketRejectsTamperedBody(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	sealed := sealPacket(priv, []byte{wireCodeStub, 9, 9})
	sealed[len(sealed)-1] ^= 0xFF // flip a body byte post-signing

	_, _, err = openPacket(sealed)
	require.Error(t, err)
}

const wireCodeStub = 0x01
