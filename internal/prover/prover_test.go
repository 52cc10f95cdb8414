package prover

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilcore/internal/ledger"
	"veilcore/internal/note"
	"veilcore/internal/veilerr"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testNote(t *testing.T) *note.DepositNote {
	t.Helper()
	secret, err := note.GenerateSecret()
	require.NoError(t, err)
	preimage, err := note.GenerateNullifierPreimage()
	require.NoError(t, err)
	return &note.DepositNote{
		Version:           2,
		PoolID:            1,
		TokenType:         "native",
		Denomination:      1_000_000_000,
		Secret:            secret,
		NullifierPreimage: preimage,
		Timestamp:         time.Now().Unix(),
	}
}

func testProof(depth int) *ledger.InclusionProof {
	p := &ledger.InclusionProof{LeafIndex: 5, Siblings: make([]ledger.Hash, depth)}
	for i := range p.Siblings {
		p.Siblings[i][0] = byte(i + 1)
	}
	p.Root[0] = 0xAA
	return p
}

func testRecipient() (a ledger.Address) {
	a[31] = 1
	return
}

func TestBuildWithdrawalInputs(t *testing.T) {
	n := testNote(t)
	in, err := BuildWithdrawalInputs(n, testProof(10), testRecipient(), ledger.ZeroAddress, 100)
	require.NoError(t, err)

	assert.Equal(t, 10, in.Depth())
	assert.Equal(t, n.NullifierHash(), in.NullifierHash)
	assert.Len(t, in.PathBits, 10)
	// leaf index 5 -> path bits 1,0,1,0,...
	assert.Equal(t, uint8(1), in.PathBits[0])
	assert.Equal(t, uint8(0), in.PathBits[1])
	assert.Equal(t, uint8(1), in.PathBits[2])

	vec := in.Vector()
	assert.Len(t, vec, 2+10+10+5)
	assert.Equal(t, in.NullifierPreimage.Hex(), vec[0])
	assert.Equal(t, in.Secret.Hex(), vec[1])
	assert.Equal(t, in.Root.Hex(), vec[22])
}

func TestBuildWithdrawalInputsRejections(t *testing.T) {
	n := testNote(t)
	rec := testRecipient()

	_, err := BuildWithdrawalInputs(nil, testProof(10), rec, ledger.ZeroAddress, 0)
	assert.True(t, veilerr.IsKind(err, veilerr.KindInvalidCircuitInput))

	_, err = BuildWithdrawalInputs(n, nil, rec, ledger.ZeroAddress, 0)
	assert.True(t, veilerr.IsKind(err, veilerr.KindInvalidCircuitInput))

	_, err = BuildWithdrawalInputs(n, testProof(3), rec, ledger.ZeroAddress, 0)
	assert.True(t, veilerr.IsKind(err, veilerr.KindInvalidCircuitInput), "depth below minimum")

	_, err = BuildWithdrawalInputs(n, testProof(10), ledger.ZeroAddress, ledger.ZeroAddress, 0)
	assert.True(t, veilerr.IsKind(err, veilerr.KindInvalidCircuitInput), "zero recipient")

	bound := testNote(t)
	bound.Recipient[0] = 0xFF
	_, err = BuildWithdrawalInputs(bound, testProof(10), rec, ledger.ZeroAddress, 0)
	assert.True(t, veilerr.IsKind(err, veilerr.KindInvalidCircuitInput), "recipient binding mismatch")
}

func TestFingerprintCoversRoot(t *testing.T) {
	n := testNote(t)
	rec := testRecipient()

	a, err := BuildWithdrawalInputs(n, testProof(10), rec, ledger.ZeroAddress, 100)
	require.NoError(t, err)

	moved := testProof(10)
	moved.Root[0] = 0xBB
	b, err := BuildWithdrawalInputs(n, moved, rec, ledger.ZeroAddress, 100)
	require.NoError(t, err)

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

type fakeBackend struct {
	calls atomic.Int64
	err   error
}

func (f *fakeBackend) ProveWithdrawal(ctx context.Context, in *WithdrawalInputs) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, veilerr.Wrap(veilerr.KindAborted, err, "cancelled")
	}
	return []byte{0x01, 0x02}, nil
}

func TestGenerateCachesPerWitness(t *testing.T) {
	backend := &fakeBackend{}
	g := NewGenerator(backend, quietLogger(), time.Hour)
	n := testNote(t)
	rec := testRecipient()

	in, err := BuildWithdrawalInputs(n, testProof(10), rec, ledger.ZeroAddress, 100)
	require.NoError(t, err)

	p1, err := g.Generate(context.Background(), in, nil)
	require.NoError(t, err)
	p2, err := g.Generate(context.Background(), in, nil)
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, int64(1), backend.calls.Load())

	// A root change is a different witness: no reuse.
	moved := testProof(10)
	moved.Root[0] = 0xBB
	in2, err := BuildWithdrawalInputs(n, moved, rec, ledger.ZeroAddress, 100)
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), in2, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), backend.calls.Load())
}

func TestGenerateReportsStages(t *testing.T) {
	g := NewGenerator(&fakeBackend{}, quietLogger(), time.Hour)
	in, err := BuildWithdrawalInputs(testNote(t), testProof(10), testRecipient(), ledger.ZeroAddress, 0)
	require.NoError(t, err)

	progress := make(chan Stage, 8)
	_, err = g.Generate(context.Background(), in, progress)
	require.NoError(t, err)
	close(progress)

	var stages []Stage
	for s := range progress {
		stages = append(stages, s)
	}
	assert.Equal(t, []Stage{StageSetup, StageWitness, StageProving, StageDone}, stages)
}

func TestGenerateBackendFailure(t *testing.T) {
	g := NewGenerator(&fakeBackend{err: errors.New("prover crashed")}, quietLogger(), time.Hour)
	in, err := BuildWithdrawalInputs(testNote(t), testProof(10), testRecipient(), ledger.ZeroAddress, 0)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), in, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, g.CacheSize(), "failures are not cached")
}

func TestInvalidateRoot(t *testing.T) {
	g := NewGenerator(&fakeBackend{}, quietLogger(), time.Hour)
	in, err := BuildWithdrawalInputs(testNote(t), testProof(10), testRecipient(), ledger.ZeroAddress, 0)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), in, nil)
	require.NoError(t, err)
	require.Equal(t, 1, g.CacheSize())

	var other ledger.Hash
	other[0] = 0x77
	g.InvalidateRoot(other)
	assert.Equal(t, 1, g.CacheSize(), "unrelated root untouched")

	g.InvalidateRoot(in.Root)
	assert.Equal(t, 0, g.CacheSize())
}

func TestGenerateCancelled(t *testing.T) {
	g := NewGenerator(&fakeBackend{}, quietLogger(), time.Hour)
	in, err := BuildWithdrawalInputs(testNote(t), testProof(10), testRecipient(), ledger.ZeroAddress, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Generate(ctx, in, nil)
	assert.True(t, veilerr.IsKind(err, veilerr.KindAborted))
}
