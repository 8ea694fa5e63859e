package discover

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Discovery datagrams are authenticated by a recoverable signature wrapped
// around the simple-codec body: sig(65) || hash(32) || body. This keeps the
// §4.1 body encodings bit-exact while satisfying the authenticity
// requirement in spec.md §1 ("recoverable signatures on discovery
// messages"). The sender's public key, and therefore its node ID, is
// recovered from the signature rather than trusted from the body.
const envelopeOverhead = 65 + 32

var (
	ErrEnvelopeTooShort = errors.New("discover: packet shorter than envelope overhead")
	ErrBadSignature     = errors.New("discover: signature does not verify")
)

func sealPacket(priv *btcec.PrivateKey, body []byte) []byte {
	h := sha256.Sum256(body)
	sig := ecdsa.SignCompact(priv, h[:], false)
	// SignCompact returns 65 bytes with the recovery id first; they are
	// copied unchanged, so the envelope layout is sig(65) = recid||r||s.
	out := make([]byte, 0, envelopeOverhead+len(body))
	out = append(out, sig...)
	out = append(out, h[:]...)
	out = append(out, body...)
	return out
}

// openPacket verifies the envelope and returns the recovered public key and
// inner body.
func openPacket(packet []byte) (*btcec.PublicKey, []byte, error) {
	if len(packet) < envelopeOverhead {
		return nil, nil, ErrEnvelopeTooShort
	}
	sig := packet[:65]
	hash := packet[65:97]
	body := packet[97:]
	want := sha256.Sum256(body)
	if string(want[:]) != string(hash) {
		return nil, nil, ErrBadSignature
	}
	pub, _, err := ecdsa.RecoverCompact(sig, hash)
	if err != nil {
		return nil, nil, ErrBadSignature
	}
	return pub, body, nil
}
