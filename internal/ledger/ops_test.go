package ledger

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(b byte) (h Hash) {
	for i := range h {
		h[i] = b
	}
	return
}

func addrOf(b byte) (a Address) {
	for i := range a {
		a[i] = b
	}
	return
}

func TestDepositOpLayout(t *testing.T) {
	op := &DepositOp{PoolID: 7, Denomination: 1_000_000_000, Commitment: hashOf(0xAB)}
	buf := op.Encode()

	require.Len(t, buf, 49)
	assert.Equal(t, OpDeposit, buf[0])
	assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(buf[1:9]))
	assert.Equal(t, uint64(1_000_000_000), binary.LittleEndian.Uint64(buf[9:17]))
	assert.Equal(t, op.Commitment[:], buf[17:49])

	back, err := DecodeDepositOp(buf)
	require.NoError(t, err)
	assert.Equal(t, op, back)
}

func TestWithdrawOpLayout(t *testing.T) {
	op := &WithdrawOp{
		PoolID:        3,
		Root:          hashOf(0x11),
		NullifierHash: hashOf(0x22),
		Recipient:     addrOf(0x33),
		Relayer:       addrOf(0x44),
		Fee:           25_000,
		Proof:         []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	buf := op.Encode()

	require.Len(t, buf, 149+4)
	assert.Equal(t, OpWithdraw, buf[0])
	assert.Equal(t, uint64(3), binary.LittleEndian.Uint64(buf[1:9]))
	assert.Equal(t, op.Root[:], buf[9:41])
	assert.Equal(t, op.NullifierHash[:], buf[41:73])
	assert.Equal(t, op.Recipient[:], buf[73:105])
	assert.Equal(t, op.Relayer[:], buf[105:137])
	assert.Equal(t, uint64(25_000), binary.LittleEndian.Uint64(buf[137:145]))
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(buf[145:149]))
	assert.Equal(t, op.Proof, buf[149:])

	back, err := DecodeWithdrawOp(buf)
	require.NoError(t, err)
	assert.Equal(t, op, back)
}

func TestDecodeWithdrawOpRejectsLengthMismatch(t *testing.T) {
	op := &WithdrawOp{PoolID: 1, Proof: []byte{1, 2, 3}}
	buf := op.Encode()

	_, err := DecodeWithdrawOp(buf[:len(buf)-1])
	assert.Error(t, err)

	_, err = DecodeWithdrawOp(append(buf, 0x00))
	assert.Error(t, err)
}

func TestDecodeDepositOpRejectsWrongOpcode(t *testing.T) {
	buf := (&DepositOp{PoolID: 1}).Encode()
	buf[0] = OpWithdraw
	_, err := DecodeDepositOp(buf)
	assert.Error(t, err)
}
