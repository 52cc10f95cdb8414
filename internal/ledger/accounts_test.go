package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilcore/internal/veilerr"
)

func TestPoolRoundTrip(t *testing.T) {
	p := &Pool{
		ID:                2,
		Denomination:      10_000_000_000,
		TokenType:         "native",
		TreeID:            5,
		TotalDeposits:     120,
		TotalWithdrawals:  98,
		MaxFeeBasisPoints: 500,
		Active:            true,
		MinWithdrawal:     1_000_000_000,
	}
	back, err := DecodePool(EncodePool(p))
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestTreeRoundTrip(t *testing.T) {
	tr := &Tree{ID: 5, Depth: 20, LeafCount: 4096, Root: hashOf(0x5A), PoolID: 2}
	back, err := DecodeTree(EncodeTree(tr))
	require.NoError(t, err)
	assert.Equal(t, tr, back)
}

func TestDecodeTreeRejectsBadDepth(t *testing.T) {
	for _, depth := range []uint8{0, 9, 31} {
		data := EncodeTree(&Tree{ID: 1, Depth: depth})
		_, err := DecodeTree(data)
		assert.Error(t, err, "depth %d", depth)
	}
}

func TestTreeCapacity(t *testing.T) {
	tr := &Tree{Depth: 10, LeafCount: 1023}
	assert.Equal(t, uint64(1024), tr.Capacity())
	assert.False(t, tr.Full())
	tr.LeafCount++
	assert.True(t, tr.Full())
}

func TestNullifierRoundTrip(t *testing.T) {
	n := &Nullifier{PoolID: 9, NullifierHash: hashOf(0xC3), Spent: true, SpentAt: 1735689600}
	back, err := DecodeNullifier(EncodeNullifier(n))
	require.NoError(t, err)
	assert.Equal(t, n, back)
}

func TestRelayerRoundTrip(t *testing.T) {
	r := &Relayer{
		Address:        addrOf(0x77),
		Active:         true,
		FeeBasisPoints: 30,
		TotalVolume:    400,
		TotalFees:      12_000_000,
		SuccessRateBps: 9950,
		AvgResponseMs:  180,
	}
	back, err := DecodeRelayer(EncodeRelayer(r))
	require.NoError(t, err)
	assert.Equal(t, r, back)

	fresh := &Relayer{Address: addrOf(1), SuccessRateBps: SuccessRateUnknown, AvgResponseMs: ResponseTimeUnknown}
	back, err = DecodeRelayer(EncodeRelayer(fresh))
	require.NoError(t, err)
	assert.Equal(t, SuccessRateUnknown, back.SuccessRateBps)
	assert.Equal(t, ResponseTimeUnknown, back.AvgResponseMs)
}

func TestDecodeRejectsShortAccounts(t *testing.T) {
	_, err := DecodePool(make([]byte, 10))
	assert.Error(t, err)
	_, err = DecodeTree(make([]byte, 10))
	assert.Error(t, err)
	_, err = DecodeNullifier(make([]byte, 10))
	assert.Error(t, err)
	_, err = DecodeRelayer(make([]byte, 10))
	assert.Error(t, err)
}

func TestDerivedAddressesAreDistinct(t *testing.T) {
	h := hashOf(0xEE)
	a := NullifierAddress(1, h)
	b := NullifierAddress(2, h)
	c := PoolAddress(1)
	d := TreeAddress(1)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, c, d)
	assert.NotEqual(t, a, c)
}

func TestMapError(t *testing.T) {
	cases := map[uint32]veilerr.Kind{
		CodeNullifierAlreadySpent:  veilerr.KindAlreadySpent,
		CodeInvalidMerkleRoot:      veilerr.KindStaleRoot,
		CodeMerkleTreeFull:         veilerr.KindNoAvailableTree,
		CodePoolInactive:           veilerr.KindPoolInactive,
		CodeFeeTooHigh:             veilerr.KindFeeTooHigh,
		CodeInvalidFeeAmount:       veilerr.KindFeeTooHigh,
		CodeWithdrawalAmountTooLow: veilerr.KindWithdrawalTooLow,
		CodeInvalidProof:           veilerr.KindProofGenerationFailed,
		CodeInsufficientFunds:      veilerr.KindUnknown,
	}
	for code, kind := range cases {
		err := MapError(&ProgramError{Code: code, Msg: "x"})
		assert.Equal(t, kind, veilerr.KindOf(err), "code %d", code)
	}

	assert.Equal(t, veilerr.KindNetworkError, veilerr.KindOf(MapError(assert.AnError)))
	assert.NoError(t, MapError(nil))
}
