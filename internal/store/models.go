// Package store persists the local deposit and withdrawal index in Postgres.
//
// The index exists for UX: listing past operations, resuming after a crash,
// relayer history. It holds commitments, nullifier hashes and state only.
// Secrets, preimages and encoded notes are never written to the database.
package store

import (
	"time"
)

// Deposit and withdrawal lifecycle states as persisted.
const (
	StateNoteGenerated       = "note_generated"
	StateTreeSelected        = "tree_selected"
	StateCommitmentSubmitted = "commitment_submitted"
	StateNoteParsed          = "note_parsed"
	StateNullifierChecked    = "nullifier_checked"
	StateProofGenerated      = "proof_generated"
	StateSubmitted           = "submitted"
	StateConfirmed           = "confirmed"
	StateFailed              = "failed"
	StateAlreadySpent        = "already_spent"
)

// DepositRecord indexes one deposit attempt.
type DepositRecord struct {
	ID           string `json:"id" gorm:"type:uuid;primaryKey"`
	PoolID       uint64 `json:"pool_id" gorm:"index;not null"`
	TokenType    string `json:"token_type" gorm:"size:16;not null"`
	Denomination uint64 `json:"denomination" gorm:"not null"`
	Commitment   string `json:"commitment" gorm:"size:64;uniqueIndex;not null"`
	TreeID       uint64 `json:"tree_id"`
	State        string `json:"state" gorm:"size:32;index;not null"`
	TxSignature  string `json:"tx_signature,omitempty" gorm:"size:128"`
	FailReason   string `json:"fail_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WithdrawalRecord indexes one withdrawal attempt. The nullifier hash is
// public the moment the withdrawal lands on-chain; storing it leaks nothing
// beyond what the ledger already shows.
type WithdrawalRecord struct {
	ID            string `json:"id" gorm:"type:uuid;primaryKey"`
	PoolID        uint64 `json:"pool_id" gorm:"index;not null"`
	NullifierHash string `json:"nullifier_hash" gorm:"size:64;index;not null"`
	Recipient     string `json:"recipient" gorm:"size:64;not null"`
	Relayer       string `json:"relayer,omitempty" gorm:"size:64"`
	Fee           uint64 `json:"fee"`
	State         string `json:"state" gorm:"size:32;index;not null"`
	Attempts      int    `json:"attempts" gorm:"default:0"`
	TxSignature   string `json:"tx_signature,omitempty" gorm:"size:128"`
	FailReason    string `json:"fail_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RelayerSnapshot is a periodic copy of one relayer's on-chain stats, kept
// for trend queries the chain itself cannot answer.
type RelayerSnapshot struct {
	ID             uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Address        string    `json:"address" gorm:"size:64;index;not null"`
	Active         bool      `json:"active"`
	FeeBasisPoints uint16    `json:"fee_basis_points"`
	SuccessRateBps uint16    `json:"success_rate_bps"`
	AvgResponseMs  uint32    `json:"avg_response_ms"`
	TotalVolume    uint64    `json:"total_volume"`
	FetchedAt      time.Time `json:"fetched_at" gorm:"index;not null"`
}
