// Package withdraw drives the withdrawal flow: note parsing, spent check,
// proof generation and verification, and the spend submission.
package withdraw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"veilcore/internal/events"
	"veilcore/internal/ledger"
	"veilcore/internal/merkle"
	"veilcore/internal/metrics"
	"veilcore/internal/note"
	"veilcore/internal/nullifier"
	"veilcore/internal/prover"
	"veilcore/internal/relayer"
	"veilcore/internal/store"
	"veilcore/internal/veilerr"
)

// State tracks one withdrawal attempt through its lifecycle.
type State string

const (
	StateIdle             State = "idle"
	StateNoteParsed       State = "note_parsed"
	StateNullifierChecked State = "nullifier_checked"
	StateProofGenerated   State = "proof_generated"
	StateSubmitted        State = "submitted"
	StateConfirmed        State = "confirmed"
	StateFailed           State = "failed"
	StateAlreadySpent     State = "already_spent"
)

// DefaultMaxStaleRetries bounds proof regeneration when the root keeps moving
// under the withdrawal.
const DefaultMaxStaleRetries = 3

// Progress is one update on the progress channel: either a state transition
// or a proof stage within StateProofGenerated.
type Progress struct {
	State State
	Stage prover.Stage
}

// Request describes one withdrawal.
type Request struct {
	Note      string
	Recipient ledger.Address
	// Relayer selects the fee-paying relayer explicitly. Nil with UseRelayer
	// set picks the best registered relayer; nil without it self-pays.
	Relayer    *ledger.Address
	UseRelayer bool
	Fee        uint64
}

// Result is the outcome of one withdrawal attempt.
type Result struct {
	ID            string
	State         State
	NullifierHash ledger.Hash
	Recipient     ledger.Address
	Relayer       ledger.Address
	Fee           uint64
	Attempts      int
	Signature     ledger.Signature
}

// ProofVerifier checks a generated proof before submission. Satisfied by
// *prover.Verifier.
type ProofVerifier interface {
	Verify(proofBytes []byte, signals prover.PublicSignals) error
}

// Manager orchestrates withdrawals.
type Manager struct {
	ledger      ledger.Ledger
	trees       *merkle.Manager
	nullifiers  *nullifier.Manager
	generator   *prover.Generator
	verifier    ProofVerifier
	relayers    *relayer.Registry
	withdrawals store.WithdrawalRepository
	bus         *events.Publisher
	log         *logrus.Logger
	maxRetries  int

	mu       sync.Mutex
	inFlight map[ledger.Hash]struct{}
}

// NewManager builds a withdraw manager. relayers, withdrawals and bus may be
// nil. maxRetries <= 0 selects DefaultMaxStaleRetries.
func NewManager(
	l ledger.Ledger,
	trees *merkle.Manager,
	nullifiers *nullifier.Manager,
	generator *prover.Generator,
	verifier ProofVerifier,
	relayers *relayer.Registry,
	withdrawals store.WithdrawalRepository,
	bus *events.Publisher,
	log *logrus.Logger,
	maxRetries int,
) *Manager {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxStaleRetries
	}
	return &Manager{
		ledger:      l,
		trees:       trees,
		nullifiers:  nullifiers,
		generator:   generator,
		verifier:    verifier,
		relayers:    relayers,
		withdrawals: withdrawals,
		bus:         bus,
		log:         log,
		maxRetries:  maxRetries,
		inFlight:    make(map[ledger.Hash]struct{}),
	}
}

// Withdraw runs the full flow. progress may be nil; sends never block.
//
// Cancellation is honored up to the moment the spend op is submitted. From
// there the operation belongs to the ledger and the flow runs to its answer.
func (m *Manager) Withdraw(ctx context.Context, req Request, progress chan<- Progress) (*Result, error) {
	res := &Result{ID: uuid.NewString(), State: StateIdle}
	report := func(p Progress) {
		if progress == nil {
			return
		}
		select {
		case progress <- p:
		default:
		}
	}

	n, err := note.Decode(req.Note)
	if err != nil {
		return m.fail(ctx, res, nil, err)
	}
	nh := n.NullifierHash()
	res.NullifierHash = nh
	res.Recipient = req.Recipient
	m.transition(ctx, res, n, StateNoteParsed, "", report)

	if err := m.acquire(nh); err != nil {
		res.Attempts = 0
		return res, err
	}
	defer m.release(nh)

	pool, err := m.readPool(ctx, n.PoolID)
	if err != nil {
		return m.fail(ctx, res, n, err)
	}
	if !pool.Active {
		return m.fail(ctx, res, n, veilerr.E(veilerr.KindPoolInactive,
			fmt.Sprintf("pool %d is inactive", pool.ID)))
	}

	// Fast-fail spent check. Proof generation is minutes of work; a spent
	// note must never reach it.
	if err := m.nullifiers.Guard(ctx, n.PoolID, nh); err != nil {
		if veilerr.IsKind(err, veilerr.KindAlreadySpent) {
			res.State = StateAlreadySpent
			m.transition(ctx, res, n, StateAlreadySpent, err.Error(), report)
			metrics.WithdrawalsTotal.WithLabelValues(string(StateAlreadySpent)).Inc()
			return res, err
		}
		return m.fail(ctx, res, n, err)
	}
	m.transition(ctx, res, n, StateNullifierChecked, "", report)

	relayerAddr, fee, err := m.resolveRelayer(ctx, req, pool)
	if err != nil {
		return m.fail(ctx, res, n, err)
	}
	res.Relayer, res.Fee = relayerAddr, fee
	if err := validateFee(pool, fee); err != nil {
		return m.fail(ctx, res, n, err)
	}

	sig, attempts, err := m.proveAndSubmit(ctx, res, n, pool, relayerAddr, fee, req.Recipient, report)
	res.Attempts = attempts
	if err != nil {
		if veilerr.IsKind(err, veilerr.KindAlreadySpent) {
			res.State = StateAlreadySpent
			m.transition(ctx, res, n, StateAlreadySpent, err.Error(), report)
			metrics.WithdrawalsTotal.WithLabelValues(string(StateAlreadySpent)).Inc()
			return res, err
		}
		return m.fail(ctx, res, n, err)
	}

	res.Signature = sig
	res.State = StateConfirmed
	m.transition(ctx, res, n, StateConfirmed, "", report)
	metrics.WithdrawalsTotal.WithLabelValues(string(StateConfirmed)).Inc()
	m.log.WithFields(logrus.Fields{
		"pool_id":   n.PoolID,
		"attempts":  attempts,
		"signature": string(sig),
	}).Info("withdrawal confirmed")
	return res, nil
}

// proveAndSubmit runs the proof-submit loop, regenerating on stale roots.
func (m *Manager) proveAndSubmit(
	ctx context.Context,
	res *Result,
	n *note.DepositNote,
	pool *ledger.Pool,
	relayerAddr ledger.Address,
	fee uint64,
	recipient ledger.Address,
	report func(Progress),
) (ledger.Signature, int, error) {
	attempts := 0
	for {
		attempts++
		if err := ctx.Err(); err != nil {
			return "", attempts, veilerr.Wrap(veilerr.KindAborted, err, "withdrawal cancelled")
		}

		mp, err := m.trees.Proof(ctx, n.Commitment())
		if err != nil {
			return "", attempts, err
		}
		in, err := prover.BuildWithdrawalInputs(n, mp, recipient, relayerAddr, fee)
		if err != nil {
			return "", attempts, err
		}

		stages := make(chan prover.Stage, 4)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for s := range stages {
				report(Progress{State: StateProofGenerated, Stage: s})
			}
		}()
		proof, err := m.generator.Generate(ctx, in, stages)
		close(stages)
		<-done
		if err != nil {
			return "", attempts, err
		}
		m.transition(ctx, res, n, StateProofGenerated, "", report)

		if err := m.verifier.Verify(proof.Bytes, proof.Signals); err != nil {
			return "", attempts, err
		}

		op := &ledger.WithdrawOp{
			PoolID:        n.PoolID,
			Root:          in.Root,
			NullifierHash: in.NullifierHash,
			Recipient:     recipient,
			Relayer:       relayerAddr,
			Fee:           fee,
			Proof:         proof.Bytes,
		}
		if err := ctx.Err(); err != nil {
			return "", attempts, veilerr.Wrap(veilerr.KindAborted, err, "cancelled before submission")
		}
		m.transition(ctx, res, n, StateSubmitted, "", report)

		// Past this point the ledger owns the op; its answer arrives even
		// if the caller gave up.
		start := time.Now()
		sig, err := m.ledger.SubmitAndConfirm(context.WithoutCancel(ctx), op.Encode())
		metrics.LedgerSubmissionDuration.WithLabelValues("withdraw").Observe(time.Since(start).Seconds())
		if err == nil {
			return sig, attempts, nil
		}

		mapped := nullifier.Interpret(err)
		metrics.LedgerErrors.WithLabelValues(veilerr.KindOf(mapped).String()).Inc()
		if !veilerr.IsKind(mapped, veilerr.KindStaleRoot) {
			return "", attempts, mapped
		}

		// The root moved between proving and landing. The proof is dead;
		// drop it and reprove against the fresh root.
		m.generator.InvalidateRoot(in.Root)
		metrics.StaleRootRetries.Inc()
		if attempts > m.maxRetries {
			return "", attempts, veilerr.Wrap(veilerr.KindStaleProof, mapped,
				fmt.Sprintf("root moved %d times during withdrawal", attempts))
		}
		m.log.WithFields(logrus.Fields{
			"pool_id": n.PoolID,
			"attempt": attempts,
		}).Warn("stale root, regenerating proof")
	}
}

// resolveRelayer returns the relayer address and fee for the request.
// Auto-selection failure degrades to a self-paid withdrawal.
func (m *Manager) resolveRelayer(ctx context.Context, req Request, pool *ledger.Pool) (ledger.Address, uint64, error) {
	if req.Relayer != nil {
		fee := req.Fee
		if fee == 0 && m.relayers != nil {
			// An explicit relayer without a fee still pays the relayer's
			// advertised rate.
			if rel, err := m.relayers.ByAddress(ctx, *req.Relayer); err == nil {
				fee = pool.Denomination * uint64(rel.FeeBasisPoints) / 10000
			}
		}
		return *req.Relayer, fee, nil
	}
	if !req.UseRelayer || m.relayers == nil {
		return ledger.ZeroAddress, 0, nil
	}
	best, err := m.relayers.Best(ctx)
	if err != nil {
		if veilerr.IsKind(err, veilerr.KindRelayerUnavailable) {
			m.log.WithError(err).Warn("no relayer available, falling back to self-paid")
			return ledger.ZeroAddress, 0, nil
		}
		return ledger.ZeroAddress, 0, err
	}
	fee := req.Fee
	if fee == 0 {
		fee = pool.Denomination * uint64(best.FeeBasisPoints) / 10000
	}
	return best.Address, fee, nil
}

func validateFee(pool *ledger.Pool, fee uint64) error {
	maxFee := pool.Denomination * uint64(pool.MaxFeeBasisPoints) / 10000
	if fee > maxFee {
		return veilerr.E(veilerr.KindFeeTooHigh,
			fmt.Sprintf("fee %d exceeds pool cap %d", fee, maxFee))
	}
	if pool.Denomination-fee < pool.MinWithdrawal {
		return veilerr.E(veilerr.KindWithdrawalTooLow,
			fmt.Sprintf("net %d below pool minimum %d", pool.Denomination-fee, pool.MinWithdrawal))
	}
	return nil
}

func (m *Manager) readPool(ctx context.Context, poolID uint64) (*ledger.Pool, error) {
	data, err := m.ledger.ReadAccount(ctx, ledger.PoolAddress(poolID))
	if err != nil {
		return nil, veilerr.Wrap(veilerr.KindNetworkError, err, "reading pool account")
	}
	return ledger.DecodePool(data)
}

// acquire takes the per-note in-flight slot.
func (m *Manager) acquire(nh ledger.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[nh]; busy {
		return veilerr.E(veilerr.KindWithdrawInFlight, "withdrawal already in flight for this note").
			With("nullifier_hash", nh.Hex())
	}
	m.inFlight[nh] = struct{}{}
	return nil
}

func (m *Manager) release(nh ledger.Hash) {
	m.mu.Lock()
	delete(m.inFlight, nh)
	m.mu.Unlock()
}

func (m *Manager) fail(ctx context.Context, res *Result, n *note.DepositNote, err error) (*Result, error) {
	res.State = StateFailed
	if n != nil {
		m.transition(ctx, res, n, StateFailed, err.Error(), func(Progress) {})
	}
	metrics.WithdrawalsTotal.WithLabelValues(string(StateFailed)).Inc()
	return res, err
}

// transition records a state change in the index, on the bus and on the
// progress channel. All sinks are best-effort.
func (m *Manager) transition(ctx context.Context, res *Result, n *note.DepositNote, s State, detail string, report func(Progress)) {
	res.State = s
	report(Progress{State: s})
	if m.withdrawals != nil {
		m.persist(ctx, res, n, s, detail)
	}
	if m.bus != nil {
		m.bus.WithdrawEvent(events.Event{
			ID:     res.ID,
			PoolID: n.PoolID,
			State:  string(s),
			Detail: detail,
		})
	}
}

func (m *Manager) persist(ctx context.Context, res *Result, n *note.DepositNote, s State, detail string) {
	if s == StateNoteParsed {
		rec := &store.WithdrawalRecord{
			ID:            res.ID,
			PoolID:        n.PoolID,
			NullifierHash: res.NullifierHash.Hex(),
			Recipient:     res.Recipient.Hex(),
			State:         string(s),
		}
		if err := m.withdrawals.Create(ctx, rec); err != nil {
			m.log.WithError(err).Warn("indexing withdrawal failed")
		}
		return
	}
	rec, err := m.withdrawals.GetByID(ctx, res.ID)
	if err != nil {
		m.log.WithError(err).Warn("loading withdrawal index row failed")
		return
	}
	rec.State = string(s)
	rec.Relayer = res.Relayer.Hex()
	rec.Fee = res.Fee
	rec.Attempts = res.Attempts
	rec.TxSignature = string(res.Signature)
	rec.FailReason = detail
	if err := m.withdrawals.Update(ctx, rec); err != nil {
		m.log.WithError(err).Warn("updating withdrawal index failed")
	}
}
