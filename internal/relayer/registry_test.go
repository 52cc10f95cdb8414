package relayer

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilcore/internal/ledger"
	"veilcore/internal/ledger/ledgertest"
	"veilcore/internal/store"
	"veilcore/internal/veilerr"
)

// memSnapshots collects saved snapshot rows in memory.
type memSnapshots struct {
	saved []*store.RelayerSnapshot
	err   error
}

func (m *memSnapshots) Save(ctx context.Context, snaps []*store.RelayerSnapshot) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, snaps...)
	return nil
}

func (m *memSnapshots) LatestByAddress(ctx context.Context, address string) (*store.RelayerSnapshot, error) {
	for i := len(m.saved) - 1; i >= 0; i-- {
		if m.saved[i].Address == address {
			return m.saved[i], nil
		}
	}
	return nil, assert.AnError
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func relayerAt(b byte) *ledger.Relayer {
	r := &ledger.Relayer{
		Active:         true,
		SuccessRateBps: ledger.SuccessRateUnknown,
		AvgResponseMs:  ledger.ResponseTimeUnknown,
	}
	r.Address[0] = b
	return r
}

func TestScoreDefaults(t *testing.T) {
	cfg := DefaultScoreConfig()

	// No history: 100 - 0 + 90 - 25 + 0 = 165.
	fresh := relayerAt(1)
	assert.InDelta(t, 165.0, cfg.Score(fresh), 0.001)

	// 0.5% fee, 99% success, 200ms, volume 3:
	// 100 - 5 + 99 - 10 + 3 = 187.
	seasoned := relayerAt(2)
	seasoned.FeeBasisPoints = 50
	seasoned.SuccessRateBps = 9900
	seasoned.AvgResponseMs = 200
	seasoned.TotalVolume = 3
	assert.InDelta(t, 187.0, cfg.Score(seasoned), 0.001)

	// Penalties and bonuses cap out.
	slow := relayerAt(3)
	slow.SuccessRateBps = 10000
	slow.AvgResponseMs = 100_000
	slow.TotalVolume = 1_000_000
	// 100 - 0 + 100 - 50 + 10 = 160.
	assert.InDelta(t, 160.0, cfg.Score(slow), 0.001)
}

func TestBestPrefersHigherScore(t *testing.T) {
	fake := ledgertest.New()
	cheap := relayerAt(1)
	cheap.FeeBasisPoints = 10
	cheap.SuccessRateBps = 9900
	cheap.AvgResponseMs = 100
	expensive := relayerAt(2)
	expensive.FeeBasisPoints = 400
	expensive.SuccessRateBps = 9900
	expensive.AvgResponseMs = 100
	fake.AddRelayer(expensive)
	fake.AddRelayer(cheap)

	reg := NewRegistry(fake, quietLogger(), time.Minute, DefaultScoreConfig(), nil)
	best, err := reg.Best(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cheap.Address, best.Address)
}

func TestBestTieBreaksByFirstSeen(t *testing.T) {
	fake := ledgertest.New()
	first := relayerAt(0x10)
	second := relayerAt(0x20)
	fake.AddRelayer(first)
	fake.AddRelayer(second)

	reg := NewRegistry(fake, quietLogger(), time.Minute, DefaultScoreConfig(), nil)
	best, err := reg.Best(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Address, best.Address)
}

func TestBestNoActiveRelayers(t *testing.T) {
	fake := ledgertest.New()
	inactive := relayerAt(1)
	inactive.Active = false
	fake.AddRelayer(inactive)

	reg := NewRegistry(fake, quietLogger(), time.Minute, DefaultScoreConfig(), nil)
	_, err := reg.Best(context.Background())
	assert.True(t, veilerr.IsKind(err, veilerr.KindRelayerUnavailable))
}

func TestRefreshServesStaleOnError(t *testing.T) {
	fake := ledgertest.New()
	fake.AddRelayer(relayerAt(1))

	reg := NewRegistry(fake, quietLogger(), time.Minute, DefaultScoreConfig(), nil)
	require.NoError(t, reg.Refresh(context.Background(), true))

	fake.ReadErr = assert.AnError
	require.NoError(t, reg.Refresh(context.Background(), true), "stale snapshot kept")

	active, err := reg.Active(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestRefreshErrsWithNothingCached(t *testing.T) {
	fake := ledgertest.New()
	fake.ReadErr = assert.AnError

	reg := NewRegistry(fake, quietLogger(), time.Minute, DefaultScoreConfig(), nil)
	err := reg.Refresh(context.Background(), true)
	assert.True(t, veilerr.IsKind(err, veilerr.KindNetworkError))
}

func TestSortedCriteriaAndFilters(t *testing.T) {
	fake := ledgertest.New()
	a := relayerAt(1)
	a.FeeBasisPoints = 300
	a.SuccessRateBps = 9000
	a.AvgResponseMs = 50
	a.TotalVolume = 500
	b := relayerAt(2)
	b.FeeBasisPoints = 30
	b.SuccessRateBps = 9990
	b.AvgResponseMs = 900
	b.TotalVolume = 20
	unmeasured := relayerAt(3)
	unmeasured.FeeBasisPoints = 100
	fake.AddRelayer(a)
	fake.AddRelayer(b)
	fake.AddRelayer(unmeasured)

	reg := NewRegistry(fake, quietLogger(), time.Minute, DefaultScoreConfig(), nil)

	byFee, err := reg.Sorted(context.Background(), SortLowestFee, Filter{})
	require.NoError(t, err)
	require.Len(t, byFee, 3)
	assert.Equal(t, b.Address, byFee[0].Address)

	byReliability, err := reg.Sorted(context.Background(), SortMostReliable, Filter{})
	require.NoError(t, err)
	assert.Equal(t, b.Address, byReliability[0].Address)
	assert.Equal(t, unmeasured.Address, byReliability[2].Address, "unmeasured sorts last")

	bySpeed, err := reg.Sorted(context.Background(), SortFastest, Filter{})
	require.NoError(t, err)
	assert.Equal(t, a.Address, bySpeed[0].Address)

	byVolume, err := reg.Sorted(context.Background(), SortHighestVolume, Filter{})
	require.NoError(t, err)
	assert.Equal(t, a.Address, byVolume[0].Address)

	filtered, err := reg.Sorted(context.Background(), SortLowestFee, Filter{MaxFeeBps: 150})
	require.NoError(t, err)
	require.Len(t, filtered, 2)

	reliable, err := reg.Sorted(context.Background(), SortLowestFee, Filter{MinSuccessRateBps: 9500})
	require.NoError(t, err)
	require.Len(t, reliable, 1)
	assert.Equal(t, b.Address, reliable[0].Address)
}

func TestRefreshRecordsSnapshots(t *testing.T) {
	fake := ledgertest.New()
	rel := relayerAt(1)
	rel.FeeBasisPoints = 50
	rel.TotalVolume = 7
	fake.AddRelayer(rel)

	snaps := &memSnapshots{}
	reg := NewRegistry(fake, quietLogger(), time.Minute, DefaultScoreConfig(), snaps)
	require.NoError(t, reg.Refresh(context.Background(), true))

	require.Len(t, snaps.saved, 1)
	row := snaps.saved[0]
	assert.Equal(t, rel.Address.Hex(), row.Address)
	assert.Equal(t, uint16(50), row.FeeBasisPoints)
	assert.Equal(t, uint64(7), row.TotalVolume)
	assert.True(t, row.Active)
	assert.False(t, row.FetchedAt.IsZero())

	latest, err := snaps.LatestByAddress(context.Background(), rel.Address.Hex())
	require.NoError(t, err)
	assert.Equal(t, row, latest)
}

func TestRefreshSurvivesSnapshotWriteFailure(t *testing.T) {
	fake := ledgertest.New()
	fake.AddRelayer(relayerAt(1))

	snaps := &memSnapshots{err: assert.AnError}
	reg := NewRegistry(fake, quietLogger(), time.Minute, DefaultScoreConfig(), snaps)
	require.NoError(t, reg.Refresh(context.Background(), true), "index write failure never fails a refresh")

	active, err := reg.Active(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestByAddress(t *testing.T) {
	fake := ledgertest.New()
	known := relayerAt(1)
	known.FeeBasisPoints = 150
	fake.AddRelayer(known)

	reg := NewRegistry(fake, quietLogger(), time.Minute, DefaultScoreConfig(), nil)

	got, err := reg.ByAddress(context.Background(), known.Address)
	require.NoError(t, err)
	assert.Equal(t, uint16(150), got.FeeBasisPoints)

	var unknown ledger.Address
	unknown[0] = 0x99
	_, err = reg.ByAddress(context.Background(), unknown)
	assert.True(t, veilerr.IsKind(err, veilerr.KindRelayerUnavailable))
}
