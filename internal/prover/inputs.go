package prover

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"veilcore/internal/ledger"
	"veilcore/internal/merkle"
	"veilcore/internal/note"
	"veilcore/internal/veilerr"
)

// WithdrawalInputs is the full witness assignment for one withdrawal proof.
// Private values never leave this process except inside the proving request.
type WithdrawalInputs struct {
	// Private.
	Secret            ledger.Hash
	NullifierPreimage ledger.Hash
	Siblings          []ledger.Hash
	PathBits          []uint8

	// Public signals, in circuit order.
	Root          ledger.Hash
	NullifierHash ledger.Hash
	Recipient     ledger.Address
	Relayer       ledger.Address
	Fee           uint64
}

// BuildWithdrawalInputs assembles and validates the witness for a withdrawal.
// Every structural violation fails here, before any prover work is spent.
func BuildWithdrawalInputs(n *note.DepositNote, proof *ledger.InclusionProof, recipient, relayer ledger.Address, fee uint64) (*WithdrawalInputs, error) {
	if n == nil {
		return nil, veilerr.E(veilerr.KindInvalidCircuitInput, "nil note")
	}
	if proof == nil {
		return nil, veilerr.E(veilerr.KindInvalidCircuitInput, "nil inclusion proof")
	}
	depth := len(proof.Siblings)
	if depth < ledger.MinTreeDepth || depth > ledger.MaxTreeDepth {
		return nil, veilerr.E(veilerr.KindInvalidCircuitInput,
			fmt.Sprintf("proof depth %d outside [%d,%d]", depth, ledger.MinTreeDepth, ledger.MaxTreeDepth))
	}
	if recipient.IsZero() {
		return nil, veilerr.E(veilerr.KindInvalidCircuitInput, "zero recipient")
	}
	if n.HasRecipient() && n.Recipient != recipient {
		return nil, veilerr.E(veilerr.KindInvalidCircuitInput, "recipient does not match note binding").
			With("bound_recipient", n.Recipient.Hex())
	}

	bits := merkle.PathBits(proof.LeafIndex, depth)
	in := &WithdrawalInputs{
		Secret:            n.Secret,
		NullifierPreimage: n.NullifierPreimage,
		Siblings:          proof.Siblings,
		PathBits:          bits,
		Root:              proof.Root,
		NullifierHash:     n.NullifierHash(),
		Recipient:         recipient,
		Relayer:           relayer,
		Fee:               fee,
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	return in, nil
}

func (in *WithdrawalInputs) validate() error {
	if len(in.Siblings) != len(in.PathBits) {
		return veilerr.E(veilerr.KindInvalidCircuitInput,
			fmt.Sprintf("sibling/path length mismatch: %d vs %d", len(in.Siblings), len(in.PathBits)))
	}
	for i, b := range in.PathBits {
		if b > 1 {
			return veilerr.E(veilerr.KindInvalidCircuitInput,
				fmt.Sprintf("path bit %d is %d, want 0 or 1", i, b))
		}
	}
	return nil
}

// Depth is the merkle depth the inputs were built for.
func (in *WithdrawalInputs) Depth() int { return len(in.Siblings) }

// Vector lays the witness out positionally, hex encoded, in the order the
// proving service expects: preimage, secret, siblings, path bits, then the
// public signals.
func (in *WithdrawalInputs) Vector() []string {
	out := make([]string, 0, 2+2*len(in.Siblings)+5)
	out = append(out, in.NullifierPreimage.Hex(), in.Secret.Hex())
	for _, s := range in.Siblings {
		out = append(out, s.Hex())
	}
	for _, b := range in.PathBits {
		out = append(out, fmt.Sprintf("%064x", b))
	}
	out = append(out,
		in.Root.Hex(),
		in.NullifierHash.Hex(),
		in.Recipient.Hex(),
		in.Relayer.Hex(),
		fmt.Sprintf("%064x", in.Fee),
	)
	return out
}

// PublicSignals is the public part of the witness, in circuit order.
func (in *WithdrawalInputs) PublicSignals() PublicSignals {
	return PublicSignals{
		Root:          in.Root,
		NullifierHash: in.NullifierHash,
		Recipient:     in.Recipient,
		Relayer:       in.Relayer,
		Fee:           in.Fee,
	}
}

// Fingerprint is a cache key covering the entire witness. Two withdrawals
// share a fingerprint only when every input, the root included, is identical.
func (in *WithdrawalInputs) Fingerprint() [32]byte {
	buf := make([]byte, 0, 64+32*len(in.Siblings)+len(in.PathBits)+32+32+64+8)
	buf = append(buf, in.NullifierPreimage[:]...)
	buf = append(buf, in.Secret[:]...)
	for _, s := range in.Siblings {
		buf = append(buf, s[:]...)
	}
	buf = append(buf, in.PathBits...)
	buf = append(buf, in.Root[:]...)
	buf = append(buf, in.NullifierHash[:]...)
	buf = append(buf, in.Recipient[:]...)
	buf = append(buf, in.Relayer[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, in.Fee)

	var fp [32]byte
	copy(fp[:], crypto.Keccak256(buf))
	return fp
}

// PublicSignals are the values the verifier and the on-chain program see.
type PublicSignals struct {
	Root          ledger.Hash
	NullifierHash ledger.Hash
	Recipient     ledger.Address
	Relayer       ledger.Address
	Fee           uint64
}
