// Package relayer tracks registered relayers and picks one for fee-paid
// withdrawals.
package relayer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"veilcore/internal/ledger"
	"veilcore/internal/metrics"
	"veilcore/internal/store"
	"veilcore/internal/veilerr"
)

// DefaultCacheTTL bounds how long a relayer snapshot is served without a
// refresh. Relayer stats move slowly; 60s keeps selection responsive without
// hammering the ledger.
const DefaultCacheTTL = 60 * time.Second

// ScoreConfig holds the selection scoring coefficients. The zero value is
// not usable; start from DefaultScoreConfig.
type ScoreConfig struct {
	Base             float64 `yaml:"base"`
	FeePenaltyPerPct float64 `yaml:"fee_penalty_per_pct"`
	SuccessDefault   float64 `yaml:"success_default"`
	ResponseDivisor  float64 `yaml:"response_divisor"`
	ResponseCap      float64 `yaml:"response_cap"`
	ResponseDefault  float64 `yaml:"response_default"`
	VolumeCap        float64 `yaml:"volume_cap"`
}

// DefaultScoreConfig are the tuned production coefficients.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		Base:             100,
		FeePenaltyPerPct: 10,
		SuccessDefault:   90,
		ResponseDivisor:  20,
		ResponseCap:      50,
		ResponseDefault:  25,
		VolumeCap:        10,
	}
}

// Score rates a relayer: lower fees, higher measured success rate, faster
// response and more volume all raise it. Relayers with no history yet get
// neutral defaults so they are usable without being preferred.
func (c ScoreConfig) Score(r *ledger.Relayer) float64 {
	score := c.Base
	score -= c.FeePenaltyPerPct * float64(r.FeeBasisPoints) / 100

	if r.SuccessRateBps == ledger.SuccessRateUnknown {
		score += c.SuccessDefault
	} else {
		score += float64(r.SuccessRateBps) / 100
	}

	if r.AvgResponseMs == ledger.ResponseTimeUnknown {
		score -= c.ResponseDefault
	} else {
		penalty := float64(r.AvgResponseMs) / c.ResponseDivisor
		if penalty > c.ResponseCap {
			penalty = c.ResponseCap
		}
		score -= penalty
	}

	bonus := float64(r.TotalVolume)
	if bonus > c.VolumeCap {
		bonus = c.VolumeCap
	}
	return score + bonus
}

// SortCriteria orders relayer listings.
type SortCriteria string

const (
	SortLowestFee     SortCriteria = "lowest_fee"
	SortMostReliable  SortCriteria = "most_reliable"
	SortFastest       SortCriteria = "fastest"
	SortHighestVolume SortCriteria = "highest_volume"
)

// Filter restricts relayer listings. Zero fields are no-ops.
type Filter struct {
	MaxFeeBps         uint16
	MinSuccessRateBps uint16
	MaxResponseMs     uint32
}

func (f Filter) admit(r *ledger.Relayer) bool {
	if f.MaxFeeBps > 0 && r.FeeBasisPoints > f.MaxFeeBps {
		return false
	}
	if f.MinSuccessRateBps > 0 &&
		(r.SuccessRateBps == ledger.SuccessRateUnknown || r.SuccessRateBps < f.MinSuccessRateBps) {
		return false
	}
	if f.MaxResponseMs > 0 &&
		(r.AvgResponseMs == ledger.ResponseTimeUnknown || r.AvgResponseMs > f.MaxResponseMs) {
		return false
	}
	return true
}

// Registry caches the on-chain relayer set and selects from it.
type Registry struct {
	ledger ledger.Ledger
	log    *logrus.Logger
	ttl    time.Duration
	score  ScoreConfig
	snaps  store.RelayerSnapshotRepository

	mu        sync.Mutex
	cached    []*ledger.Relayer
	firstSeen map[ledger.Address]int
	fetchedAt time.Time
}

// NewRegistry builds a relayer registry. ttl <= 0 selects DefaultCacheTTL.
// snaps may be nil; with a repository each successful refresh also records
// the fetched stats for trend queries.
func NewRegistry(l ledger.Ledger, log *logrus.Logger, ttl time.Duration, score ScoreConfig, snaps store.RelayerSnapshotRepository) *Registry {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Registry{
		ledger:    l,
		log:       log,
		ttl:       ttl,
		score:     score,
		snaps:     snaps,
		firstSeen: make(map[ledger.Address]int),
	}
}

// Refresh reloads the relayer set from the ledger. Without force a snapshot
// within the TTL is kept. A fetch failure keeps serving the last good
// snapshot when one exists.
func (r *Registry) Refresh(ctx context.Context, force bool) error {
	r.mu.Lock()
	if !force && r.cached != nil && time.Since(r.fetchedAt) < r.ttl {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	raw, err := r.ledger.ReadProgramAccounts(ctx, ledger.AccountFilter{Kind: ledger.AccountRelayer})
	if err != nil {
		metrics.RelayerRefreshes.WithLabelValues("error").Inc()
		r.mu.Lock()
		stale := r.cached != nil
		r.mu.Unlock()
		if stale {
			r.log.WithError(err).Warn("relayer refresh failed, keeping stale snapshot")
			return nil
		}
		return veilerr.Wrap(veilerr.KindNetworkError, err, "listing relayers")
	}

	relayers := make([]*ledger.Relayer, 0, len(raw))
	active := 0
	for _, data := range raw {
		rel, err := ledger.DecodeRelayer(data)
		if err != nil {
			r.log.WithError(err).Warn("skipping undecodable relayer account")
			continue
		}
		relayers = append(relayers, rel)
		if rel.Active {
			active++
		}
	}

	r.mu.Lock()
	for _, rel := range relayers {
		if _, seen := r.firstSeen[rel.Address]; !seen {
			r.firstSeen[rel.Address] = len(r.firstSeen)
		}
	}
	r.cached = relayers
	r.fetchedAt = time.Now()
	r.mu.Unlock()

	metrics.RelayerRefreshes.WithLabelValues("ok").Inc()
	metrics.RelayersActive.Set(float64(active))
	r.recordSnapshots(ctx, relayers)
	return nil
}

// recordSnapshots writes the fetched stats to the index. A write failure is
// logged only; selection never depends on the database.
func (r *Registry) recordSnapshots(ctx context.Context, relayers []*ledger.Relayer) {
	if r.snaps == nil || len(relayers) == 0 {
		return
	}
	now := time.Now()
	rows := make([]*store.RelayerSnapshot, 0, len(relayers))
	for _, rel := range relayers {
		rows = append(rows, &store.RelayerSnapshot{
			Address:        rel.Address.Hex(),
			Active:         rel.Active,
			FeeBasisPoints: rel.FeeBasisPoints,
			SuccessRateBps: rel.SuccessRateBps,
			AvgResponseMs:  rel.AvgResponseMs,
			TotalVolume:    rel.TotalVolume,
			FetchedAt:      now,
		})
	}
	if err := r.snaps.Save(ctx, rows); err != nil {
		r.log.WithError(err).Warn("failed to record relayer snapshots")
	}
}

// Active returns the active relayers, refreshing the snapshot if stale.
func (r *Registry) Active(ctx context.Context) ([]*ledger.Relayer, error) {
	if err := r.Refresh(ctx, false); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ledger.Relayer, 0, len(r.cached))
	for _, rel := range r.cached {
		if rel.Active {
			out = append(out, rel)
		}
	}
	return out, nil
}

// Best picks the highest scoring active relayer. Score ties go to the
// relayer seen first, keeping selection deterministic across refreshes.
func (r *Registry) Best(ctx context.Context) (*ledger.Relayer, error) {
	active, err := r.Active(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, veilerr.E(veilerr.KindRelayerUnavailable, "no active relayers")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	best := active[0]
	bestScore := r.score.Score(best)
	for _, rel := range active[1:] {
		s := r.score.Score(rel)
		if s > bestScore || (s == bestScore && r.firstSeen[rel.Address] < r.firstSeen[best.Address]) {
			best, bestScore = rel, s
		}
	}
	return best, nil
}

// ByAddress returns the registered relayer with the given address,
// refreshing the snapshot if stale.
func (r *Registry) ByAddress(ctx context.Context, addr ledger.Address) (*ledger.Relayer, error) {
	if err := r.Refresh(ctx, false); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rel := range r.cached {
		if rel.Address == addr {
			return rel, nil
		}
	}
	return nil, veilerr.E(veilerr.KindRelayerUnavailable, "relayer not registered: "+addr.Hex())
}

// Sorted returns the active relayers passing the filter, stably ordered by
// the criteria.
func (r *Registry) Sorted(ctx context.Context, by SortCriteria, filter Filter) ([]*ledger.Relayer, error) {
	active, err := r.Active(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*ledger.Relayer, 0, len(active))
	for _, rel := range active {
		if filter.admit(rel) {
			out = append(out, rel)
		}
	}

	less := func(a, b *ledger.Relayer) bool { return a.FeeBasisPoints < b.FeeBasisPoints }
	switch by {
	case SortMostReliable:
		less = func(a, b *ledger.Relayer) bool {
			return effectiveSuccess(a) > effectiveSuccess(b)
		}
	case SortFastest:
		less = func(a, b *ledger.Relayer) bool {
			return effectiveResponse(a) < effectiveResponse(b)
		}
	case SortHighestVolume:
		less = func(a, b *ledger.Relayer) bool { return a.TotalVolume > b.TotalVolume }
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

// Unmeasured relayers sort last under reliability and speed orderings.

func effectiveSuccess(r *ledger.Relayer) int {
	if r.SuccessRateBps == ledger.SuccessRateUnknown {
		return -1
	}
	return int(r.SuccessRateBps)
}

func effectiveResponse(r *ledger.Relayer) int64 {
	if r.AvgResponseMs == ledger.ResponseTimeUnknown {
		return int64(ledger.ResponseTimeUnknown) + 1
	}
	return int64(r.AvgResponseMs)
}
