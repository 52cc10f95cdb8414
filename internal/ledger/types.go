// Package ledger defines the collaborator interface to the chain that owns
// the pools, merkle trees and nullifier set, together with the binary wire
// formats this core produces and consumes.
//
// The ledger itself is out of scope for the protocol core: transfers and the
// on-chain invariants (atomic deposit+insert, atomic nullifier record) are its
// responsibility. Everything in this package is either an interface or a
// compatibility contract (instruction payloads, account byte layouts).
package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Address is a 32-byte account address on the ledger.
type Address [32]byte

// Hash is a 32-byte field-element hash (commitment, nullifier hash, root).
type Hash [32]byte

// Signature identifies a confirmed ledger operation.
type Signature string

// ZeroAddress is the recipient placeholder for recipient-agnostic
// commitments and the relayer placeholder for self-paid withdrawals.
var ZeroAddress Address

func (a Address) Hex() string  { return hex.EncodeToString(a[:]) }
func (a Address) IsZero() bool { return a == ZeroAddress }

func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

// ParseAddress decodes a 64-char hex address, with or without 0x prefix.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := parse32(s)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	copy(a[:], b)
	return a, nil
}

// ParseHash decodes a 64-char hex hash, with or without 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := parse32(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	copy(h[:], b)
	return h, nil
}

func parse32(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	return b, nil
}

// ErrAccountNotFound is returned by ReadAccount when no account exists at the
// given address. For nullifier accounts this is the "unspent" answer.
var ErrAccountNotFound = errors.New("ledger: account not found")

// AccountKind tags program-owned account types for filtered reads.
type AccountKind byte

const (
	AccountPool      AccountKind = 0x01
	AccountTree      AccountKind = 0x02
	AccountNullifier AccountKind = 0x03
	AccountRelayer   AccountKind = 0x04
)

// AccountFilter selects program-owned accounts by kind, optionally scoped to
// one pool (PoolID 0 means all pools).
type AccountFilter struct {
	Kind   AccountKind
	PoolID uint64
}
