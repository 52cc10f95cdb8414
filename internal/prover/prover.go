// Package prover produces and checks withdrawal proofs.
//
// Proving itself runs on an external service; this package assembles the
// witness, drives the request, verifies results locally with gnark before
// anything reaches the ledger, and caches finished proofs per witness
// fingerprint.
package prover

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"veilcore/internal/ledger"
	"veilcore/internal/metrics"
)

// Stage labels proof generation progress for subscribers.
type Stage string

const (
	StageSetup   Stage = "setup"
	StageWitness Stage = "witness"
	StageProving Stage = "proving"
	StageDone    Stage = "done"
)

// DefaultStallWarn is how long a proving call may run before a warning is
// logged. The call is never cancelled on this timer; proving legitimately
// takes minutes on large trees.
const DefaultStallWarn = 2 * time.Minute

// Proof is a finished withdrawal proof with the signals it binds.
type Proof struct {
	Bytes       []byte
	Signals     PublicSignals
	GeneratedAt time.Time
}

// Backend runs one proving request. Satisfied by *Client.
type Backend interface {
	ProveWithdrawal(ctx context.Context, in *WithdrawalInputs) ([]byte, error)
}

// Generator orchestrates proof generation with caching.
type Generator struct {
	backend   Backend
	log       *logrus.Logger
	stallWarn time.Duration

	mu    sync.Mutex
	cache map[[32]byte]*Proof
}

// NewGenerator builds a proof generator. stallWarn <= 0 selects
// DefaultStallWarn.
func NewGenerator(backend Backend, log *logrus.Logger, stallWarn time.Duration) *Generator {
	if stallWarn <= 0 {
		stallWarn = DefaultStallWarn
	}
	return &Generator{
		backend:   backend,
		log:       log,
		stallWarn: stallWarn,
		cache:     make(map[[32]byte]*Proof),
	}
}

// Generate produces a proof for the inputs, reusing a cached one when the
// full witness, root included, is identical. Progress sends never block;
// a slow subscriber just misses stages. Cancelling ctx is always safe: the
// proof is pure computation and an abandoned run changes no state.
func (g *Generator) Generate(ctx context.Context, in *WithdrawalInputs, progress chan<- Stage) (*Proof, error) {
	report := func(s Stage) {
		if progress == nil {
			return
		}
		select {
		case progress <- s:
		default:
		}
	}
	report(StageSetup)

	fp := in.Fingerprint()
	g.mu.Lock()
	cached := g.cache[fp]
	g.mu.Unlock()
	if cached != nil {
		metrics.ProofCacheHits.Inc()
		g.log.WithField("root", in.Root.Hex()).Debug("proof cache hit")
		report(StageDone)
		return cached, nil
	}
	metrics.ProofCacheMisses.Inc()

	report(StageWitness)
	if err := in.validate(); err != nil {
		return nil, err
	}

	report(StageProving)
	stall := time.AfterFunc(g.stallWarn, func() {
		g.log.WithFields(logrus.Fields{
			"root":    in.Root.Hex(),
			"elapsed": g.stallWarn.String(),
		}).Warn("proof generation still running")
	})
	defer stall.Stop()

	start := time.Now()
	raw, err := g.backend.ProveWithdrawal(ctx, in)
	if err != nil {
		return nil, err
	}
	metrics.ProofGenerationDuration.Observe(time.Since(start).Seconds())

	p := &Proof{
		Bytes:       raw,
		Signals:     in.PublicSignals(),
		GeneratedAt: time.Now(),
	}
	g.mu.Lock()
	g.cache[fp] = p
	g.mu.Unlock()

	g.log.WithFields(logrus.Fields{
		"root":     in.Root.Hex(),
		"duration": time.Since(start).String(),
	}).Info("withdrawal proof generated")
	report(StageDone)
	return p, nil
}

// InvalidateRoot drops every cached proof bound to the given root. Called
// when the ledger rejects that root as stale; those proofs can never verify
// on-chain again.
func (g *Generator) InvalidateRoot(root ledger.Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for fp, p := range g.cache {
		if p.Signals.Root == root {
			delete(g.cache, fp)
		}
	}
}

// CacheSize reports the number of cached proofs.
func (g *Generator) CacheSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cache)
}
