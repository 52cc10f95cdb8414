package store

import (
	"context"

	"gorm.io/gorm"
)

// DepositRepository defines data access for deposit index rows.
type DepositRepository interface {
	Create(ctx context.Context, rec *DepositRecord) error
	GetByID(ctx context.Context, id string) (*DepositRecord, error)
	GetByCommitment(ctx context.Context, commitment string) (*DepositRecord, error)
	UpdateState(ctx context.Context, id, state string) error
	Update(ctx context.Context, rec *DepositRecord) error
	ListByPool(ctx context.Context, poolID uint64, page, pageSize int) ([]*DepositRecord, int64, error)
}

// WithdrawalRepository defines data access for withdrawal index rows.
type WithdrawalRepository interface {
	Create(ctx context.Context, rec *WithdrawalRecord) error
	GetByID(ctx context.Context, id string) (*WithdrawalRecord, error)
	FindByNullifierHash(ctx context.Context, hash string) ([]*WithdrawalRecord, error)
	Update(ctx context.Context, rec *WithdrawalRecord) error
	ListByPool(ctx context.Context, poolID uint64, page, pageSize int) ([]*WithdrawalRecord, int64, error)
}

// RelayerSnapshotRepository stores periodic relayer stat snapshots.
type RelayerSnapshotRepository interface {
	Save(ctx context.Context, snaps []*RelayerSnapshot) error
	LatestByAddress(ctx context.Context, address string) (*RelayerSnapshot, error)
}

type depositRepository struct {
	db *gorm.DB
}

// NewDepositRepository creates a DepositRepository backed by gorm.
func NewDepositRepository(db *gorm.DB) DepositRepository {
	return &depositRepository{db: db}
}

func (r *depositRepository) Create(ctx context.Context, rec *DepositRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *depositRepository) GetByID(ctx context.Context, id string) (*DepositRecord, error) {
	var rec DepositRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *depositRepository) GetByCommitment(ctx context.Context, commitment string) (*DepositRecord, error) {
	var rec DepositRecord
	if err := r.db.WithContext(ctx).Where("commitment = ?", commitment).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *depositRepository) UpdateState(ctx context.Context, id, state string) error {
	return r.db.WithContext(ctx).Model(&DepositRecord{}).
		Where("id = ?", id).Update("state", state).Error
}

func (r *depositRepository) Update(ctx context.Context, rec *DepositRecord) error {
	return r.db.WithContext(ctx).Save(rec).Error
}

func (r *depositRepository) ListByPool(ctx context.Context, poolID uint64, page, pageSize int) ([]*DepositRecord, int64, error) {
	var recs []*DepositRecord
	var total int64
	q := r.db.WithContext(ctx).Model(&DepositRecord{}).Where("pool_id = ?", poolID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&recs).Error
	return recs, total, err
}

type withdrawalRepository struct {
	db *gorm.DB
}

// NewWithdrawalRepository creates a WithdrawalRepository backed by gorm.
func NewWithdrawalRepository(db *gorm.DB) WithdrawalRepository {
	return &withdrawalRepository{db: db}
}

func (r *withdrawalRepository) Create(ctx context.Context, rec *WithdrawalRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *withdrawalRepository) GetByID(ctx context.Context, id string) (*WithdrawalRecord, error) {
	var rec WithdrawalRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *withdrawalRepository) FindByNullifierHash(ctx context.Context, hash string) ([]*WithdrawalRecord, error) {
	var recs []*WithdrawalRecord
	err := r.db.WithContext(ctx).Where("nullifier_hash = ?", hash).
		Order("created_at DESC").Find(&recs).Error
	return recs, err
}

func (r *withdrawalRepository) Update(ctx context.Context, rec *WithdrawalRecord) error {
	return r.db.WithContext(ctx).Save(rec).Error
}

func (r *withdrawalRepository) ListByPool(ctx context.Context, poolID uint64, page, pageSize int) ([]*WithdrawalRecord, int64, error) {
	var recs []*WithdrawalRecord
	var total int64
	q := r.db.WithContext(ctx).Model(&WithdrawalRecord{}).Where("pool_id = ?", poolID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&recs).Error
	return recs, total, err
}

type relayerSnapshotRepository struct {
	db *gorm.DB
}

// NewRelayerSnapshotRepository creates a RelayerSnapshotRepository backed by gorm.
func NewRelayerSnapshotRepository(db *gorm.DB) RelayerSnapshotRepository {
	return &relayerSnapshotRepository{db: db}
}

func (r *relayerSnapshotRepository) Save(ctx context.Context, snaps []*RelayerSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(snaps).Error
}

func (r *relayerSnapshotRepository) LatestByAddress(ctx context.Context, address string) (*RelayerSnapshot, error) {
	var snap RelayerSnapshot
	err := r.db.WithContext(ctx).Where("address = ?", address).
		Order("fetched_at DESC").First(&snap).Error
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
