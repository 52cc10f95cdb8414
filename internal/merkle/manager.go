// Package merkle tracks the pool merkle trees owned by the ledger.
//
// The trees themselves live on-chain; this manager reads their state, selects
// a tree for new deposits, and fetches inclusion proofs. Its cache is
// advisory only: correctness-critical reads (latest root, inclusion proof)
// always go to the ledger.
package merkle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"veilcore/internal/ledger"
	"veilcore/internal/veilerr"
)

// DefaultCacheTTL bounds how long a tree listing is served without a refresh.
const DefaultCacheTTL = 30 * time.Second

// Manager reads and caches merkle tree state.
type Manager struct {
	ledger ledger.Ledger
	log    *logrus.Logger
	ttl    time.Duration

	mu        sync.Mutex
	cached    []*ledger.Tree
	fetchedAt time.Time
}

// NewManager builds a tree state manager. ttl <= 0 selects DefaultCacheTTL.
func NewManager(l ledger.Ledger, log *logrus.Logger, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Manager{ledger: l, log: log, ttl: ttl}
}

// ActiveTrees returns every tree that still has capacity.
//
// Listing trees is a non-critical read: on a fetch failure the last good
// snapshot is served instead of failing the caller, as long as one exists.
func (m *Manager) ActiveTrees(ctx context.Context) ([]*ledger.Tree, error) {
	trees, err := m.allTrees(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]*ledger.Tree, 0, len(trees))
	for _, t := range trees {
		if !t.Full() {
			active = append(active, t)
		}
	}
	return active, nil
}

func (m *Manager) allTrees(ctx context.Context) ([]*ledger.Tree, error) {
	m.mu.Lock()
	if m.cached != nil && time.Since(m.fetchedAt) < m.ttl {
		trees := m.cached
		m.mu.Unlock()
		return trees, nil
	}
	m.mu.Unlock()

	raw, err := m.ledger.ReadProgramAccounts(ctx, ledger.AccountFilter{Kind: ledger.AccountTree})
	if err != nil {
		m.mu.Lock()
		stale := m.cached
		m.mu.Unlock()
		if stale != nil {
			m.log.WithError(err).Warn("tree listing failed, serving stale cache")
			return stale, nil
		}
		return nil, veilerr.Wrap(veilerr.KindNetworkError, err, "listing trees")
	}

	trees := make([]*ledger.Tree, 0, len(raw))
	for _, data := range raw {
		t, err := ledger.DecodeTree(data)
		if err != nil {
			m.log.WithError(err).Warn("skipping undecodable tree account")
			continue
		}
		trees = append(trees, t)
	}
	m.mu.Lock()
	m.cached = trees
	m.fetchedAt = time.Now()
	m.mu.Unlock()
	return trees, nil
}

// Invalidate drops the cached listing, forcing the next read to the ledger.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

// PickTreeForDeposit selects the tree for a new commitment: the one with the
// most existing leaves among non-full trees, ties broken by lowest id.
// Concentrating deposits maximizes the anonymity set per tree instead of
// spreading it thin. When every tree is full the error is fatal; a new tree
// must be provisioned externally.
func PickTreeForDeposit(trees []*ledger.Tree) (*ledger.Tree, error) {
	candidates := make([]*ledger.Tree, 0, len(trees))
	for _, t := range trees {
		if !t.Full() {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, veilerr.E(veilerr.KindNoAvailableTree, "all trees at capacity")
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].LeafCount != candidates[j].LeafCount {
			return candidates[i].LeafCount > candidates[j].LeafCount
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], nil
}

// Proof fetches a fresh inclusion proof for the commitment. Never cached:
// a proof against a stale root wastes a full proving run.
func (m *Manager) Proof(ctx context.Context, commitment ledger.Hash) (*ledger.InclusionProof, error) {
	p, err := m.ledger.ProveInclusion(ctx, commitment)
	if err != nil {
		return nil, veilerr.Wrap(veilerr.KindNetworkError, err, "inclusion proof").
			With("commitment", commitment.Hex())
	}
	return p, nil
}

// LatestRoot reads the current root of a tree directly from the ledger.
// Used for stale-root retries; deliberately bypasses every cache.
func (m *Manager) LatestRoot(ctx context.Context, treeID uint64) (ledger.Hash, error) {
	data, err := m.ledger.ReadAccount(ctx, ledger.TreeAddress(treeID))
	if err != nil {
		return ledger.Hash{}, veilerr.Wrap(veilerr.KindNetworkError, err, "reading tree root")
	}
	t, err := ledger.DecodeTree(data)
	if err != nil {
		return ledger.Hash{}, veilerr.Wrap(veilerr.KindNetworkError, err, "decoding tree account")
	}
	return t.Root, nil
}

// PathBits expands a leaf index into per-level direction bits, least
// significant bit first: bit i is the position (0 = left, 1 = right) of the
// path node at level i.
func PathBits(leafIndex uint64, depth int) []uint8 {
	bits := make([]uint8, depth)
	for i := 0; i < depth; i++ {
		bits[i] = uint8((leafIndex >> i) & 1)
	}
	return bits
}
