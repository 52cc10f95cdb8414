// Package veilerr defines the error taxonomy of the protocol core.
//
// Every failure that crosses a component boundary is classified by Kind so
// callers can decide between retry, fallback and hard failure without string
// matching. Fatal kinds carry enough structured context (pool id, nullifier
// hash) for the caller to report what exactly is unrecoverable.
package veilerr

import (
	"errors"
	"fmt"
)

// Kind classifies a protocol error.
type Kind int

const (
	// KindUnknown is the zero value; errors without a kind are treated as
	// transient network failures by retry logic.
	KindUnknown Kind = iota

	// KindInvalidNoteFormat: the note string could not be decoded. Fatal for
	// this note, never transient.
	KindInvalidNoteFormat

	// KindAlreadySpent: the nullifier for this note is recorded on the ledger.
	// Fatal for this note, never transient.
	KindAlreadySpent

	// KindNoAvailableTree: every known merkle tree is at capacity. Fatal until
	// a new tree is provisioned externally.
	KindNoAvailableTree

	// KindInvalidCircuitInput: the assembled proof input vector failed shape
	// validation. Indicates a bug or a corrupted note; fatal.
	KindInvalidCircuitInput

	// KindProofGenerationFailed: the prover returned an error. Retryable.
	KindProofGenerationFailed

	// KindStaleRoot: the submitted root is no longer a recent root of the
	// tree. Retryable up to a bound.
	KindStaleRoot

	// KindStaleProof: stale-root retries were exhausted. Fatal for this
	// attempt; the note itself is still spendable.
	KindStaleProof

	// KindRelayerUnavailable: no usable relayer. Non-fatal, callers fall back
	// to a self-paid withdrawal.
	KindRelayerUnavailable

	// KindNetworkError: transient transport failure. Retried with backoff;
	// non-critical reads fall back to stale caches.
	KindNetworkError

	// KindAborted: the caller cancelled before submission. Clean terminal
	// state, not a failure.
	KindAborted

	// KindPoolInactive: the target pool is administratively disabled.
	KindPoolInactive

	// KindFeeTooHigh: the requested relayer fee exceeds the pool's cap.
	KindFeeTooHigh

	// KindWithdrawalTooLow: denomination minus fee is below the pool's
	// minimum withdrawal amount.
	KindWithdrawalTooLow

	// KindWithdrawInFlight: another withdrawal for the same note is already
	// past the local guard.
	KindWithdrawInFlight
)

var kindNames = map[Kind]string{
	KindUnknown:               "Unknown",
	KindInvalidNoteFormat:     "InvalidNoteFormat",
	KindAlreadySpent:          "AlreadySpent",
	KindNoAvailableTree:       "NoAvailableTree",
	KindInvalidCircuitInput:   "InvalidCircuitInput",
	KindProofGenerationFailed: "ProofGenerationFailed",
	KindStaleRoot:             "StaleRoot",
	KindStaleProof:            "StaleProof",
	KindRelayerUnavailable:    "RelayerUnavailable",
	KindNetworkError:          "NetworkError",
	KindAborted:               "AbortedByUser",
	KindPoolInactive:          "PoolInactive",
	KindFeeTooHigh:            "FeeTooHigh",
	KindWithdrawalTooLow:      "WithdrawalTooLow",
	KindWithdrawInFlight:      "WithdrawInFlight",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Retryable reports whether an operation failing with this kind may be retried
// with the same inputs. AlreadySpent and InvalidNoteFormat are deliberately
// excluded: presenting them as transient would invite users to burn gas on a
// note that can never succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindUnknown, KindNetworkError, KindProofGenerationFailed, KindStaleRoot:
		return true
	}
	return false
}

// Error is a kinded protocol error with optional structured context.
type Error struct {
	Kind   Kind
	Msg    string
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	for k, v := range e.Fields {
		s += fmt.Sprintf(" %s=%s", k, v)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, veilerr.E(kind, "")) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// E builds a new kinded error.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// With adds a structured context field and returns the same error for
// chaining.
func (e *Error) With(key, value string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
	return e
}

// KindOf extracts the kind from an error chain, KindUnknown if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
