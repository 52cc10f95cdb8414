// Package note implements the commitment scheme and the note codec.
//
// A deposit note is the only artifact that can reconstruct withdrawal inputs.
// It is created client-side, handed to the user, and never persisted by this
// core: a lost note is unrecoverable.
package note

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"veilcore/internal/ledger"
)

// DepositNote holds the secret material of one deposit.
//
// Recipient is optional: when set, the commitment binds the deposit to a
// single destination (lower anonymity, opt-in); when zero, the commitment is
// recipient-agnostic.
type DepositNote struct {
	Version           int
	PoolID            uint64
	TokenType         string
	Denomination      uint64
	Secret            ledger.Hash
	NullifierPreimage ledger.Hash
	Timestamp         int64
	Recipient         ledger.Address
}

// GenerateSecret returns a cryptographically secure random 32-byte value,
// reduced into the scalar field so it is always a valid circuit input.
func GenerateSecret() (ledger.Hash, error) {
	return randomFieldElement()
}

// GenerateNullifierPreimage returns a fresh random nullifier preimage.
func GenerateNullifierPreimage() (ledger.Hash, error) {
	return randomFieldElement()
}

func randomFieldElement() (ledger.Hash, error) {
	var h ledger.Hash
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return h, fmt.Errorf("randomness unavailable: %w", err)
	}
	v := new(big.Int).SetBytes(b)
	v.Mod(v, fr.Modulus())
	v.FillBytes(h[:])
	return h, nil
}

// reduce maps arbitrary 32 bytes into the scalar field. Addresses are not
// field elements; the canonical mapping is reduction mod the field modulus,
// applied identically by the circuit.
func reduce(b []byte) []byte {
	v := new(big.Int).SetBytes(b)
	v.Mod(v, fr.Modulus())
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}

// Commitment derives the merkle leaf: H(secret, nullifierPreimage, recipient)
// with a zero-filled recipient when the note is recipient-agnostic.
// Deterministic, and sensitive to every input byte.
func Commitment(secret, preimage ledger.Hash, recipient ledger.Address) ledger.Hash {
	h := mimcNative.NewMiMC()
	h.Write(secret[:])
	h.Write(preimage[:])
	h.Write(reduce(recipient[:]))
	var out ledger.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// NullifierHash derives the value revealed at withdrawal time:
// H(nullifierPreimage, domainTag). The domain tag is the pool id, so a
// nullifier validated in one pool cannot be replayed in another.
func NullifierHash(preimage ledger.Hash, poolID uint64) ledger.Hash {
	var tag [32]byte
	binary.BigEndian.PutUint64(tag[24:], poolID)
	h := mimcNative.NewMiMC()
	h.Write(preimage[:])
	h.Write(tag[:])
	var out ledger.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Commitment derives the leaf for this note.
func (n *DepositNote) Commitment() ledger.Hash {
	return Commitment(n.Secret, n.NullifierPreimage, n.Recipient)
}

// NullifierHash derives the nullifier hash for this note.
func (n *DepositNote) NullifierHash() ledger.Hash {
	return NullifierHash(n.NullifierPreimage, n.PoolID)
}

// HasRecipient reports whether the note is bound to a fixed destination.
func (n *DepositNote) HasRecipient() bool {
	return !n.Recipient.IsZero()
}
