package executor

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/dotlanth/dotvm/dotvmerr"
	"github.com/dotlanth/dotvm/erigon-lib/common"
	"golang.org/x/crypto/sha3"
)

// Keccak256Hasher is the default HashProvider, matching the hash
// core/state already uses for trie node addressing.
type Keccak256Hasher struct{}

func (Keccak256Hasher) Hash(data []byte) common.Hash {
	d := sha3.NewLegacyKeccak256()
	d.Write(data)
	var out common.Hash
	d.Sum(out[:0])
	return out
}

// Secp256k1Signer is the default SignProvider, producing a compact
// (recovery-code || r || s) signature over a 32-byte digest.
type Secp256k1Signer struct{}

func (Secp256k1Signer) Sign(digest []byte, privateKey []byte) ([]byte, error) {
	const op = "Secp256k1Signer.Sign"
	if len(digest) != 32 {
		return nil, dotvmerr.New(dotvmerr.KindInvalidOperation, op, nil)
	}
	priv := secp256k1.PrivKeyFromBytes(privateKey)
	sig := ecdsa.SignCompact(priv, digest, false)
	return sig, nil
}
