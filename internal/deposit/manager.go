// Package deposit drives the deposit flow: note generation, tree selection
// and the atomic transfer+insert submission.
package deposit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"veilcore/internal/events"
	"veilcore/internal/ledger"
	"veilcore/internal/merkle"
	"veilcore/internal/metrics"
	"veilcore/internal/note"
	"veilcore/internal/store"
	"veilcore/internal/veilerr"
)

// State tracks one deposit attempt through its lifecycle.
type State string

const (
	StateIdle                State = "idle"
	StateNoteGenerated       State = "note_generated"
	StateTreeSelected        State = "tree_selected"
	StateCommitmentSubmitted State = "commitment_submitted"
	StateConfirmed           State = "confirmed"
	StateFailed              State = "failed"
)

// Result is the outcome of one deposit attempt. Note and Encoded are set as
// soon as the note exists: on a failed submission the caller still holds the
// secret material and can retry or recover later.
type Result struct {
	ID        string
	State     State
	Note      *note.DepositNote
	Encoded   string
	Pool      *ledger.Pool
	TreeID    uint64
	Signature ledger.Signature
	Err       error
}

// Manager orchestrates deposits.
type Manager struct {
	ledger   ledger.Ledger
	trees    *merkle.Manager
	deposits store.DepositRepository
	bus      *events.Publisher
	log      *logrus.Logger
}

// NewManager builds a deposit manager. deposits and bus may be nil; indexing
// and eventing are then skipped.
func NewManager(l ledger.Ledger, trees *merkle.Manager, deposits store.DepositRepository, bus *events.Publisher, log *logrus.Logger) *Manager {
	return &Manager{ledger: l, trees: trees, deposits: deposits, bus: bus, log: log}
}

// Deposit runs the full flow for amount of tokenType. A non-nil recipient
// binds the note to that recipient inside the commitment.
//
// The returned Result always carries the note once one was generated, even
// on failure: losing the note would strand the deposit forever.
func (m *Manager) Deposit(ctx context.Context, amount uint64, tokenType string, recipient *ledger.Address) (*Result, error) {
	res := &Result{ID: uuid.NewString(), State: StateIdle}

	pool, err := m.findPool(ctx, amount, tokenType)
	if err != nil {
		res.State, res.Err = StateFailed, err
		metrics.DepositsTotal.WithLabelValues(string(StateFailed)).Inc()
		return res, err
	}
	res.Pool = pool

	n, err := m.generateNote(pool, recipient)
	if err != nil {
		res.State, res.Err = StateFailed, err
		metrics.DepositsTotal.WithLabelValues(string(StateFailed)).Inc()
		return res, err
	}
	res.Note = n
	if res.Encoded, err = note.Encode(n); err != nil {
		res.State, res.Err = StateFailed, err
		return res, err
	}
	m.transition(ctx, res, StateNoteGenerated, "")

	tree, err := m.pickTree(ctx, pool)
	if err != nil {
		res.State, res.Err = StateFailed, err
		m.transition(ctx, res, StateFailed, err.Error())
		metrics.DepositsTotal.WithLabelValues(string(StateFailed)).Inc()
		return res, err
	}
	res.TreeID = tree.ID
	m.transition(ctx, res, StateTreeSelected, "")

	op := &ledger.DepositOp{
		PoolID:       pool.ID,
		Denomination: pool.Denomination,
		Commitment:   n.Commitment(),
	}
	m.transition(ctx, res, StateCommitmentSubmitted, "")

	start := time.Now()
	sig, err := m.ledger.SubmitAndConfirm(ctx, op.Encode())
	metrics.LedgerSubmissionDuration.WithLabelValues("deposit").Observe(time.Since(start).Seconds())
	if err != nil {
		mapped := ledger.MapError(err)
		metrics.LedgerErrors.WithLabelValues(veilerr.KindOf(mapped).String()).Inc()
		metrics.DepositsTotal.WithLabelValues(string(StateFailed)).Inc()
		res.State, res.Err = StateFailed, mapped
		m.transition(ctx, res, StateFailed, mapped.Error())
		m.log.WithError(mapped).WithFields(logrus.Fields{
			"pool_id": pool.ID,
			"tree_id": tree.ID,
		}).Error("deposit submission failed, note preserved")
		return res, mapped
	}

	res.Signature = sig
	res.State = StateConfirmed
	m.trees.Invalidate()
	m.transition(ctx, res, StateConfirmed, "")
	metrics.DepositsTotal.WithLabelValues(string(StateConfirmed)).Inc()
	m.log.WithFields(logrus.Fields{
		"pool_id":   pool.ID,
		"tree_id":   tree.ID,
		"signature": string(sig),
	}).Info("deposit confirmed")
	return res, nil
}

func (m *Manager) findPool(ctx context.Context, amount uint64, tokenType string) (*ledger.Pool, error) {
	raw, err := m.ledger.ReadProgramAccounts(ctx, ledger.AccountFilter{Kind: ledger.AccountPool})
	if err != nil {
		return nil, veilerr.Wrap(veilerr.KindNetworkError, err, "listing pools")
	}
	for _, data := range raw {
		p, err := ledger.DecodePool(data)
		if err != nil {
			m.log.WithError(err).Warn("skipping undecodable pool account")
			continue
		}
		if p.Denomination != amount || p.TokenType != tokenType {
			continue
		}
		if !p.Active {
			return nil, veilerr.E(veilerr.KindPoolInactive,
				fmt.Sprintf("pool %d is inactive", p.ID))
		}
		return p, nil
	}
	return nil, veilerr.E(veilerr.KindUnknown,
		fmt.Sprintf("no pool for %d %s", amount, tokenType))
}

func (m *Manager) generateNote(pool *ledger.Pool, recipient *ledger.Address) (*note.DepositNote, error) {
	secret, err := note.GenerateSecret()
	if err != nil {
		return nil, veilerr.Wrap(veilerr.KindUnknown, err, "generating secret")
	}
	preimage, err := note.GenerateNullifierPreimage()
	if err != nil {
		return nil, veilerr.Wrap(veilerr.KindUnknown, err, "generating nullifier preimage")
	}
	n := &note.DepositNote{
		Version:           note.CurrentVersion,
		PoolID:            pool.ID,
		TokenType:         pool.TokenType,
		Denomination:      pool.Denomination,
		Secret:            secret,
		NullifierPreimage: preimage,
		Timestamp:         time.Now().Unix(),
	}
	if recipient != nil {
		n.Recipient = *recipient
	}
	return n, nil
}

func (m *Manager) pickTree(ctx context.Context, pool *ledger.Pool) (*ledger.Tree, error) {
	all, err := m.trees.ActiveTrees(ctx)
	if err != nil {
		return nil, err
	}
	mine := make([]*ledger.Tree, 0, len(all))
	for _, t := range all {
		if t.PoolID == pool.ID {
			mine = append(mine, t)
		}
	}
	return merkle.PickTreeForDeposit(mine)
}

// transition records a state change in the index and on the bus. Both sinks
// are best-effort; neither failure touches the flow.
func (m *Manager) transition(ctx context.Context, res *Result, s State, detail string) {
	res.State = s
	if m.deposits != nil {
		m.persist(ctx, res, s, detail)
	}
	if m.bus != nil && res.Pool != nil {
		m.bus.DepositEvent(events.Event{
			ID:     res.ID,
			PoolID: res.Pool.ID,
			State:  string(s),
			Detail: detail,
		})
	}
}

func (m *Manager) persist(ctx context.Context, res *Result, s State, detail string) {
	if s == StateNoteGenerated {
		rec := &store.DepositRecord{
			ID:           res.ID,
			PoolID:       res.Pool.ID,
			TokenType:    res.Pool.TokenType,
			Denomination: res.Pool.Denomination,
			Commitment:   res.Note.Commitment().Hex(),
			State:        string(s),
		}
		if err := m.deposits.Create(ctx, rec); err != nil {
			m.log.WithError(err).Warn("indexing deposit failed")
		}
		return
	}
	rec, err := m.deposits.GetByID(ctx, res.ID)
	if err != nil {
		m.log.WithError(err).Warn("loading deposit index row failed")
		return
	}
	rec.State = string(s)
	rec.TreeID = res.TreeID
	rec.TxSignature = string(res.Signature)
	rec.FailReason = detail
	if err := m.deposits.Update(ctx, rec); err != nil {
		m.log.WithError(err).Warn("updating deposit index failed")
	}
}
