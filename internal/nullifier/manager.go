// Package nullifier answers "has this note been spent" against the ledger's
// nullifier set.
//
// The authoritative set lives on-chain: a nullifier account existing at its
// derived address means spent, ErrAccountNotFound means unspent. Answers are
// never cached. A cached "unspent" can only mislead: the ledger re-checks
// atomically at submission, and Interpret turns that late rejection into the
// same error a local hit produces.
package nullifier

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"veilcore/internal/ledger"
	"veilcore/internal/veilerr"
)

// Manager queries the on-chain nullifier set.
type Manager struct {
	ledger ledger.Ledger
	log    *logrus.Logger
}

// NewManager builds a nullifier set manager.
func NewManager(l ledger.Ledger, log *logrus.Logger) *Manager {
	return &Manager{ledger: l, log: log}
}

// Check reports whether the nullifier hash has been spent in the pool.
func (m *Manager) Check(ctx context.Context, poolID uint64, hash ledger.Hash) (bool, error) {
	addr := ledger.NullifierAddress(poolID, hash)
	data, err := m.ledger.ReadAccount(ctx, addr)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return false, nil
		}
		return false, veilerr.Wrap(veilerr.KindNetworkError, err, "nullifier lookup").
			With("nullifier_hash", hash.Hex())
	}
	n, err := ledger.DecodeNullifier(data)
	if err != nil {
		return false, veilerr.Wrap(veilerr.KindNetworkError, err, "decoding nullifier account").
			With("nullifier_hash", hash.Hex())
	}
	return n.Spent, nil
}

// BatchCheck reports spent status per hash, in input order. Sequential
// lookups; the first transport failure aborts the batch.
func (m *Manager) BatchCheck(ctx context.Context, poolID uint64, hashes []ledger.Hash) ([]bool, error) {
	out := make([]bool, len(hashes))
	for i, h := range hashes {
		spent, err := m.Check(ctx, poolID, h)
		if err != nil {
			return nil, err
		}
		out[i] = spent
	}
	return out, nil
}

// Guard returns an AlreadySpent error when the hash is spent, nil when it is
// not. Transport failures pass through as NetworkError.
func (m *Manager) Guard(ctx context.Context, poolID uint64, hash ledger.Hash) error {
	spent, err := m.Check(ctx, poolID, hash)
	if err != nil {
		return err
	}
	if spent {
		m.log.WithFields(logrus.Fields{
			"pool_id":        poolID,
			"nullifier_hash": hash.Hex(),
		}).Warn("withdrawal attempted with spent nullifier")
		return veilerr.E(veilerr.KindAlreadySpent, "note already spent").
			With("nullifier_hash", hash.Hex())
	}
	return nil
}

// Interpret classifies a ledger submission failure. The local Check can race
// a concurrent spender; the ledger's atomic re-check is authoritative and its
// rejection must read identically to a local hit.
func Interpret(err error) error {
	return ledger.MapError(err)
}
