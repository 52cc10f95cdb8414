package ledger

import (
	"errors"
	"fmt"

	"veilcore/internal/veilerr"
)

// Program error codes. The on-chain program rejects operations with one of
// these codes; the numbering matches the program's error enum and is part of
// the wire contract.
const (
	CodeInsufficientFunds      uint32 = 6000
	CodeInvalidProof           uint32 = 6001
	CodeNullifierAlreadySpent  uint32 = 6002
	CodeInvalidMerkleRoot      uint32 = 6003
	CodeInvalidDenomination    uint32 = 6004
	CodePoolInactive           uint32 = 6005
	CodeInvalidFeeAmount       uint32 = 6006
	CodeFeeTooHigh             uint32 = 6007
	CodeInvalidRecipient       uint32 = 6008
	CodeInvalidTreeDepth       uint32 = 6009
	CodeWithdrawalAmountTooLow uint32 = 6010
	CodeMerkleTreeFull         uint32 = 6011
)

// ProgramError is a structured rejection from the on-chain program.
type ProgramError struct {
	Code uint32
	Msg  string
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("program error %d: %s", e.Code, e.Msg)
}

// MapError classifies a submission failure into the core taxonomy.
//
// A late NullifierAlreadySpent matters most: the local spent check may have
// said "unspent" moments before, but the ledger answer is authoritative and
// must surface as AlreadySpent rather than a generic failure.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProgramError
	if !errors.As(err, &pe) {
		return veilerr.Wrap(veilerr.KindNetworkError, err, "ledger submission")
	}
	switch pe.Code {
	case CodeNullifierAlreadySpent:
		return veilerr.Wrap(veilerr.KindAlreadySpent, pe, "rejected by ledger")
	case CodeInvalidMerkleRoot:
		return veilerr.Wrap(veilerr.KindStaleRoot, pe, "root no longer current")
	case CodeMerkleTreeFull:
		return veilerr.Wrap(veilerr.KindNoAvailableTree, pe, "tree at capacity")
	case CodePoolInactive:
		return veilerr.Wrap(veilerr.KindPoolInactive, pe, "pool disabled")
	case CodeFeeTooHigh, CodeInvalidFeeAmount:
		return veilerr.Wrap(veilerr.KindFeeTooHigh, pe, "fee rejected")
	case CodeWithdrawalAmountTooLow:
		return veilerr.Wrap(veilerr.KindWithdrawalTooLow, pe, "below pool minimum")
	case CodeInvalidProof:
		return veilerr.Wrap(veilerr.KindProofGenerationFailed, pe, "proof rejected on-chain")
	}
	return veilerr.Wrap(veilerr.KindUnknown, pe, "unclassified program error")
}
