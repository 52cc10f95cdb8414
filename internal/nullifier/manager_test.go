package nullifier

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilcore/internal/ledger"
	"veilcore/internal/ledger/ledgertest"
	"veilcore/internal/veilerr"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestCheckUnspentAndSpent(t *testing.T) {
	fake := ledgertest.New()
	pool := &ledger.Pool{ID: 1, Denomination: 1000, TreeID: 1, Active: true, MaxFeeBasisPoints: 500, MinWithdrawal: 100}
	fake.AddPool(pool)
	tree := &ledger.Tree{ID: 1, Depth: 10, PoolID: 1}
	fake.AddTree(tree)

	var hash ledger.Hash
	hash[0] = 0xAA

	m := NewManager(fake, quietLogger())
	spent, err := m.Check(context.Background(), 1, hash)
	require.NoError(t, err)
	assert.False(t, spent)

	// Spend it through a real withdrawal so the fake records the account
	// at the derived address.
	op := &ledger.WithdrawOp{
		PoolID:        1,
		Root:          tree.Root,
		NullifierHash: hash,
		Fee:           0,
	}
	_, err = fake.SubmitAndConfirm(context.Background(), op.Encode())
	require.NoError(t, err)

	spent, err = m.Check(context.Background(), 1, hash)
	require.NoError(t, err)
	assert.True(t, spent)

	// Same hash in another pool is independent.
	fake.AddPool(&ledger.Pool{ID: 2, Denomination: 1000, TreeID: 2, Active: true})
	spent, err = m.Check(context.Background(), 2, hash)
	require.NoError(t, err)
	assert.False(t, spent)
}

func TestCheckNetworkError(t *testing.T) {
	fake := ledgertest.New()
	fake.ReadErr = assert.AnError

	m := NewManager(fake, quietLogger())
	_, err := m.Check(context.Background(), 1, ledger.Hash{})
	assert.True(t, veilerr.IsKind(err, veilerr.KindNetworkError))
}

func TestBatchCheckOrder(t *testing.T) {
	fake := ledgertest.New()
	fake.AddPool(&ledger.Pool{ID: 1, Denomination: 1000, TreeID: 1, Active: true, MaxFeeBasisPoints: 500})
	tree := &ledger.Tree{ID: 1, Depth: 10, PoolID: 1}
	fake.AddTree(tree)

	var spentHash, freshHash ledger.Hash
	spentHash[0] = 1
	freshHash[0] = 2
	op := &ledger.WithdrawOp{PoolID: 1, Root: tree.Root, NullifierHash: spentHash}
	_, err := fake.SubmitAndConfirm(context.Background(), op.Encode())
	require.NoError(t, err)

	m := NewManager(fake, quietLogger())
	res, err := m.BatchCheck(context.Background(), 1, []ledger.Hash{freshHash, spentHash, freshHash})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false}, res)
}

func TestGuard(t *testing.T) {
	fake := ledgertest.New()
	fake.AddPool(&ledger.Pool{ID: 1, Denomination: 1000, TreeID: 1, Active: true, MaxFeeBasisPoints: 500})
	tree := &ledger.Tree{ID: 1, Depth: 10, PoolID: 1}
	fake.AddTree(tree)

	var hash ledger.Hash
	hash[0] = 9

	m := NewManager(fake, quietLogger())
	require.NoError(t, m.Guard(context.Background(), 1, hash))

	op := &ledger.WithdrawOp{PoolID: 1, Root: tree.Root, NullifierHash: hash}
	_, err := fake.SubmitAndConfirm(context.Background(), op.Encode())
	require.NoError(t, err)

	err = m.Guard(context.Background(), 1, hash)
	assert.True(t, veilerr.IsKind(err, veilerr.KindAlreadySpent))
}

func TestInterpretLateRejection(t *testing.T) {
	err := Interpret(&ledger.ProgramError{Code: ledger.CodeNullifierAlreadySpent, Msg: "x"})
	assert.True(t, veilerr.IsKind(err, veilerr.KindAlreadySpent))
	assert.NoError(t, Interpret(nil))
}
