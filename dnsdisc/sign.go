package dnsdisc

import (
	"crypto/sha256"
	"encoding/base32"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// SignRoot signs (eRoot, lRoot, seq) with the tree's private key, per
// spec.md §3 "Root invariant".
func SignRoot(priv *btcec.PrivateKey, eRoot, lRoot string, seq uint64) []byte {
	r := RootEntry{ERoot: eRoot, LRoot: lRoot, Seq: seq}
	h := sha256.Sum256([]byte(r.signingPayload()))
	return ecdsa.SignCompact(priv, h[:], false)
}

// VerifyRoot checks r.Sig against pub over (ERoot, LRoot, Seq).
func VerifyRoot(pub *btcec.PublicKey, r RootEntry) bool {
	h := sha256.Sum256([]byte(r.signingPayload()))
	recovered, _, err := ecdsa.RecoverCompact(r.Sig, h[:])
	if err != nil {
		return false
	}
	return recovered.IsEqual(pub)
}

// PublicKeyB32 encodes a public key the way a tree URL embeds it
// (enrtree://<base32 pubkey>@<domain>).
func PublicKeyB32(pub *btcec.PublicKey) string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(pub.SerializeCompressed())
}

// ParsePublicKeyB32 is the inverse of PublicKeyB32.
func ParsePublicKeyB32(s string) (*btcec.PublicKey, error) {
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(raw)
}
