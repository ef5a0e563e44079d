// 文件: pkg/cash/balance_repo.go
// 现金模块 - 余额/流水仓库 (GORM 实现)

package cash

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo 余额/流水仓库
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// AutoMigrate 建表
func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(&BalanceRecord{}, &JournalRecord{})
}

// =============================================================================
// 余额操作
// =============================================================================

// GetBalance 查询余额，不存在返回 nil
func (r *Repo) GetBalance(ctx context.Context, portfolioID, fundID, currency string) (*BalanceRecord, error) {
	var rec BalanceRecord
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ? AND fund_id = ? AND currency = ?", portfolioID, fundID, currency).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetBalances 基金全部币种余额
func (r *Repo) GetBalances(ctx context.Context, portfolioID, fundID string) ([]*BalanceRecord, error) {
	var recs []*BalanceRecord
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ? AND fund_id = ?", portfolioID, fundID).
		Find(&recs).Error
	return recs, err
}

// UpsertBalance 按流水的结果覆盖余额
func (r *Repo) UpsertBalance(ctx context.Context, e *JournalEvent) error {
	rec := &BalanceRecord{
		PortfolioID: e.PortfolioID,
		FundID:      e.FundID,
		Currency:    string(e.Currency),
		Settled:     e.SettledAfter,
		Unsettled:   e.UnsettledAfter,
		UpdatedAt:   e.CreatedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "portfolio_id"}, {Name: "fund_id"}, {Name: "currency"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"settled":    e.SettledAfter,
				"unsettled":  e.UnsettledAfter,
				"version":    gorm.Expr("version + 1"),
				"updated_at": e.CreatedAt,
			}),
		}).
		Create(rec).Error
}

// UpdateBalanceWithVersion 带版本号更新 (乐观锁)
func (r *Repo) UpdateBalanceWithVersion(ctx context.Context, rec *BalanceRecord, expectedVersion int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&BalanceRecord{}).
		Where("portfolio_id = ? AND fund_id = ? AND currency = ? AND version = ?",
			rec.PortfolioID, rec.FundID, rec.Currency, expectedVersion).
		Updates(map[string]interface{}{
			"settled":    rec.Settled,
			"unsettled":  rec.Unsettled,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// =============================================================================
// 流水操作
// =============================================================================

// InsertJournal 插入流水 (幂等)
func (r *Repo) InsertJournal(ctx context.Context, e *JournalEvent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.Insert{Modifier: "IGNORE"}).
		Create(journalRecordOf(e)).Error
}

// BatchInsertJournals 批量插入流水 (幂等)
func (r *Repo) BatchInsertJournals(ctx context.Context, events []*JournalEvent) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]*JournalRecord, 0, len(events))
	for _, e := range events {
		records = append(records, journalRecordOf(e))
	}
	return r.db.WithContext(ctx).
		Clauses(clause.Insert{Modifier: "IGNORE"}).
		CreateInBatches(records, 100).
		Error
}

// ListJournals 查询流水
func (r *Repo) ListJournals(ctx context.Context, portfolioID, fundID string, limit, offset int) ([]*JournalRecord, error) {
	var recs []*JournalRecord
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ? AND fund_id = ?", portfolioID, fundID).
		Order("seq DESC").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error
	return recs, err
}

// =============================================================================
// 事务支持
// =============================================================================

// Transaction 执行事务
func (r *Repo) Transaction(ctx context.Context, fn func(tx *Repo) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repo{db: tx})
	})
}

// SaveJournal 事务中同时写流水和余额
func (r *Repo) SaveJournal(ctx context.Context, e *JournalEvent) error {
	return r.Transaction(ctx, func(tx *Repo) error {
		if err := tx.InsertJournal(ctx, e); err != nil {
			return err
		}
		return tx.UpsertBalance(ctx, e)
	})
}
