package deposit

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilcore/internal/ledger"
	"veilcore/internal/ledger/ledgertest"
	"veilcore/internal/merkle"
	"veilcore/internal/note"
	"veilcore/internal/veilerr"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func fixture() (*ledgertest.Fake, *Manager) {
	fake := ledgertest.New()
	fake.AddPool(&ledger.Pool{
		ID: 1, Denomination: 1_000_000_000, TokenType: "native",
		TreeID: 1, Active: true, MaxFeeBasisPoints: 500, MinWithdrawal: 100_000_000,
	})
	fake.AddTree(&ledger.Tree{ID: 1, Depth: 10, PoolID: 1})

	log := quietLogger()
	trees := merkle.NewManager(fake, log, time.Minute)
	return fake, NewManager(fake, trees, nil, nil, log)
}

func TestDepositHappyPath(t *testing.T) {
	fake, m := fixture()

	res, err := m.Deposit(context.Background(), 1_000_000_000, "native", nil)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, res.State)
	assert.NotEmpty(t, res.Signature)
	assert.NotEmpty(t, res.Encoded)
	require.NotNil(t, res.Note)
	assert.Equal(t, uint64(1), res.TreeID)

	// The encoded note round-trips to the same commitment.
	back, err := note.Decode(res.Encoded)
	require.NoError(t, err)
	assert.Equal(t, res.Note.Commitment(), back.Commitment())

	// The ledger saw exactly one deposit op carrying that commitment.
	require.Len(t, fake.Submitted, 1)
	op, err := ledger.DecodeDepositOp(fake.Submitted[0])
	require.NoError(t, err)
	assert.Equal(t, res.Note.Commitment(), op.Commitment)
}

func TestDepositWithBoundRecipient(t *testing.T) {
	_, m := fixture()
	var rec ledger.Address
	rec[31] = 7

	res, err := m.Deposit(context.Background(), 1_000_000_000, "native", &rec)
	require.NoError(t, err)
	assert.True(t, res.Note.HasRecipient())

	back, err := note.Decode(res.Encoded)
	require.NoError(t, err)
	assert.Equal(t, rec, back.Recipient)
}

func TestDepositNoMatchingPool(t *testing.T) {
	_, m := fixture()
	_, err := m.Deposit(context.Background(), 42, "native", nil)
	assert.Error(t, err)
}

func TestDepositPoolInactive(t *testing.T) {
	fake, m := fixture()
	fake.AddPool(&ledger.Pool{ID: 2, Denomination: 500, TokenType: "native", TreeID: 1, Active: false})

	_, err := m.Deposit(context.Background(), 500, "native", nil)
	assert.True(t, veilerr.IsKind(err, veilerr.KindPoolInactive))
}

func TestDepositAllTreesFull(t *testing.T) {
	fake := ledgertest.New()
	fake.AddPool(&ledger.Pool{ID: 1, Denomination: 1000, TokenType: "native", TreeID: 1, Active: true})
	fake.AddTree(&ledger.Tree{ID: 1, Depth: 10, LeafCount: 1 << 10, PoolID: 1})
	log := quietLogger()
	m := NewManager(fake, merkle.NewManager(fake, log, time.Minute), nil, nil, log)

	res, err := m.Deposit(context.Background(), 1000, "native", nil)
	assert.True(t, veilerr.IsKind(err, veilerr.KindNoAvailableTree))
	assert.NotNil(t, res.Note, "note survives the failure")
	assert.Equal(t, StateFailed, res.State)
}

func TestDepositSubmissionFailureKeepsNote(t *testing.T) {
	fake, m := fixture()
	fake.SubmitErr = &ledger.ProgramError{Code: ledger.CodePoolInactive, Msg: "paused"}

	res, err := m.Deposit(context.Background(), 1_000_000_000, "native", nil)
	assert.True(t, veilerr.IsKind(err, veilerr.KindPoolInactive))
	assert.Equal(t, StateFailed, res.State)
	require.NotNil(t, res.Note)
	assert.NotEmpty(t, res.Encoded, "unconfirmed note still returned")
}
