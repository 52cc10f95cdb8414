package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/crypto"
)

// InclusionProof is the ledger's answer to a merkle inclusion query: the root
// it proved against, the ordered sibling hashes from leaf level upward, and
// the index of the leaf. Path bits are not part of the wire answer; callers
// derive them from the leaf index.
type InclusionProof struct {
	Root      Hash
	Siblings  []Hash
	LeafIndex uint64
}

// Ledger is the chain collaborator consumed by the protocol core.
//
// SubmitAndConfirm signs, submits and waits for finality of one operation
// payload (see ops.go). The deposit payload moves value and inserts the leaf
// atomically; the withdraw payload records the nullifier and pays out
// atomically; exactly one of two concurrent submissions for the same
// nullifier succeeds, and the loser fails with a program error this core maps
// to AlreadySpent.
//
// ReadAccount returns the raw bytes of one account (ErrAccountNotFound when
// absent). ReadProgramAccounts returns raw bytes of every account matching
// the filter. ProveInclusion asks the ledger-side indexer for a merkle
// inclusion proof of a commitment.
type Ledger interface {
	SubmitAndConfirm(ctx context.Context, op []byte) (Signature, error)
	ReadAccount(ctx context.Context, addr Address) ([]byte, error)
	ReadProgramAccounts(ctx context.Context, filter AccountFilter) ([][]byte, error)
	ProveInclusion(ctx context.Context, commitment Hash) (*InclusionProof, error)
}

// Account address derivation. The on-chain program derives its accounts from
// (tag, seed) pairs; the core reproduces the derivation so it can read
// accounts directly instead of scanning.

func deriveAddress(tag string, seeds ...[]byte) Address {
	data := []byte(tag)
	for _, s := range seeds {
		data = append(data, s...)
	}
	var a Address
	copy(a[:], crypto.Keccak256(data))
	return a
}

// NullifierAddress derives the account that exists iff the nullifier hash has
// been recorded for the given pool.
func NullifierAddress(poolID uint64, nullifierHash Hash) Address {
	return deriveAddress("nullifier", u64le(poolID), nullifierHash[:])
}

// PoolAddress derives a pool's account address from its id.
func PoolAddress(poolID uint64) Address {
	return deriveAddress("pool", u64le(poolID))
}

// TreeAddress derives a merkle tree's account address from its id.
func TreeAddress(treeID uint64) Address {
	return deriveAddress("tree", u64le(treeID))
}

func u64le(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
