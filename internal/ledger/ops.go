package ledger

import (
	"encoding/binary"
	"fmt"
)

// Operation payloads produced by the core.
//
// Layout is a compatibility contract with the on-chain program: an opcode
// byte followed by fixed-width little-endian fields in the order below. Any
// change here is a breaking protocol change.
//
//	Deposit  = 0x01 | poolID u64 | denomination u64 | commitment [32]
//	Withdraw = 0x02 | poolID u64 | root [32] | nullifierHash [32] |
//	           recipient [32] | relayer [32] | fee u64 | proofLen u32 | proof
//
// The relayer field is ZeroAddress for self-paid withdrawals.
const (
	OpDeposit  byte = 0x01
	OpWithdraw byte = 0x02
)

const (
	depositOpLen     = 1 + 8 + 8 + 32
	withdrawFixedLen = 1 + 8 + 32 + 32 + 32 + 32 + 8 + 4
)

// DepositOp is the atomic transfer-and-insert request.
type DepositOp struct {
	PoolID       uint64
	Denomination uint64
	Commitment   Hash
}

// Encode serializes the deposit payload.
func (op *DepositOp) Encode() []byte {
	buf := make([]byte, depositOpLen)
	buf[0] = OpDeposit
	binary.LittleEndian.PutUint64(buf[1:9], op.PoolID)
	binary.LittleEndian.PutUint64(buf[9:17], op.Denomination)
	copy(buf[17:49], op.Commitment[:])
	return buf
}

// DecodeDepositOp parses a deposit payload. Used by tests and tooling; the
// production consumer is the on-chain program.
func DecodeDepositOp(buf []byte) (*DepositOp, error) {
	if len(buf) != depositOpLen || buf[0] != OpDeposit {
		return nil, fmt.Errorf("malformed deposit op (%d bytes)", len(buf))
	}
	op := &DepositOp{
		PoolID:       binary.LittleEndian.Uint64(buf[1:9]),
		Denomination: binary.LittleEndian.Uint64(buf[9:17]),
	}
	copy(op.Commitment[:], buf[17:49])
	return op, nil
}

// WithdrawOp is the atomic record-nullifier-and-pay-out request.
type WithdrawOp struct {
	PoolID        uint64
	Root          Hash
	NullifierHash Hash
	Recipient     Address
	Relayer       Address
	Fee           uint64
	Proof         []byte
}

// Encode serializes the withdraw payload.
func (op *WithdrawOp) Encode() []byte {
	buf := make([]byte, withdrawFixedLen+len(op.Proof))
	buf[0] = OpWithdraw
	binary.LittleEndian.PutUint64(buf[1:9], op.PoolID)
	copy(buf[9:41], op.Root[:])
	copy(buf[41:73], op.NullifierHash[:])
	copy(buf[73:105], op.Recipient[:])
	copy(buf[105:137], op.Relayer[:])
	binary.LittleEndian.PutUint64(buf[137:145], op.Fee)
	binary.LittleEndian.PutUint32(buf[145:149], uint32(len(op.Proof)))
	copy(buf[149:], op.Proof)
	return buf
}

// DecodeWithdrawOp parses a withdraw payload.
func DecodeWithdrawOp(buf []byte) (*WithdrawOp, error) {
	if len(buf) < withdrawFixedLen || buf[0] != OpWithdraw {
		return nil, fmt.Errorf("malformed withdraw op (%d bytes)", len(buf))
	}
	op := &WithdrawOp{
		PoolID: binary.LittleEndian.Uint64(buf[1:9]),
		Fee:    binary.LittleEndian.Uint64(buf[137:145]),
	}
	copy(op.Root[:], buf[9:41])
	copy(op.NullifierHash[:], buf[41:73])
	copy(op.Recipient[:], buf[73:105])
	copy(op.Relayer[:], buf[105:137])
	proofLen := binary.LittleEndian.Uint32(buf[145:149])
	if len(buf) != withdrawFixedLen+int(proofLen) {
		return nil, fmt.Errorf("withdraw op proof length mismatch: header %d, trailing %d",
			proofLen, len(buf)-withdrawFixedLen)
	}
	op.Proof = append([]byte(nil), buf[149:]...)
	return op, nil
}
