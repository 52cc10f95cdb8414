package prover

import (
	"bytes"
	"fmt"
	"math/big"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"

	"veilcore/internal/metrics"
	"veilcore/internal/veilerr"
)

// nbPublicSignals is the circuit's public input count: root, nullifier hash,
// recipient, relayer, fee.
const nbPublicSignals = 5

// Verifier checks withdrawal proofs locally against the circuit's verifying
// key, before any ledger submission. A proof that fails here would burn a
// transaction fee on a guaranteed on-chain rejection.
type Verifier struct {
	vk groth16.VerifyingKey
}

// NewVerifier loads the verifying key artifact from disk.
func NewVerifier(vkPath string) (*Verifier, error) {
	f, err := os.Open(vkPath)
	if err != nil {
		return nil, fmt.Errorf("opening verifying key: %w", err)
	}
	defer f.Close()

	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("reading verifying key %s: %w", vkPath, err)
	}
	return &Verifier{vk: vk}, nil
}

// Verify checks the proof against the public signals. A verification failure
// is terminal for the proof, not for the withdrawal: regenerating with fresh
// inputs may still succeed.
func (v *Verifier) Verify(proofBytes []byte, signals PublicSignals) error {
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		metrics.ProofVerifications.WithLabelValues("malformed").Inc()
		return veilerr.Wrap(veilerr.KindProofGenerationFailed, err, "malformed proof bytes")
	}

	w, err := publicWitness(signals)
	if err != nil {
		return err
	}
	if err := groth16.Verify(proof, v.vk, w); err != nil {
		metrics.ProofVerifications.WithLabelValues("invalid").Inc()
		return veilerr.Wrap(veilerr.KindProofGenerationFailed, err, "proof does not verify").
			With("root", signals.Root.Hex())
	}
	metrics.ProofVerifications.WithLabelValues("ok").Inc()
	return nil
}

// publicWitness builds the public-only witness without instantiating the
// circuit. The signal order must match the circuit's public variable order.
func publicWitness(signals PublicSignals) (witness.Witness, error) {
	w, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return nil, veilerr.Wrap(veilerr.KindInvalidCircuitInput, err, "allocating witness")
	}
	values := make(chan any, nbPublicSignals)
	values <- new(big.Int).SetBytes(signals.Root[:])
	values <- new(big.Int).SetBytes(signals.NullifierHash[:])
	values <- new(big.Int).SetBytes(signals.Recipient[:])
	values <- new(big.Int).SetBytes(signals.Relayer[:])
	values <- new(big.Int).SetUint64(signals.Fee)
	close(values)

	if err := w.Fill(nbPublicSignals, 0, values); err != nil {
		return nil, veilerr.Wrap(veilerr.KindInvalidCircuitInput, err, "filling public witness")
	}
	return w, nil
}
