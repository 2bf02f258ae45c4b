package repository

import (
	"context"
	"time"

	"crosspay/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RiskRepository owns treasury balances, daily spending, and breaker rows.
// It is constructed only inside the risk service; no other component gets a
// handle to these tables.
type RiskRepository interface {
	TreasuryBalance(ctx context.Context, chain models.Chain, asset string) (decimal.Decimal, error)
	DailySpent(ctx context.Context, chain models.Chain, date string) (decimal.Decimal, error)

	// ApplySpend atomically adds amount to the (chain, date) accumulator and
	// subtracts it from the treasury balance in a single transaction, with
	// row locks so concurrent spends for the same day serialize.
	ApplySpend(ctx context.Context, chain models.Chain, asset string, amount decimal.Decimal, date string) error

	// ApplyDeposit credits the treasury balance for a funding-side inflow.
	ApplyDeposit(ctx context.Context, chain models.Chain, asset string, amount decimal.Decimal) error

	OpenBreaker(ctx context.Context, chain models.Chain) (*models.CircuitBreakerState, error)
	TripBreaker(ctx context.Context, chain models.Chain, reason, triggeredBy string) (*models.CircuitBreakerState, error)
	ResolveBreaker(ctx context.Context, chain models.Chain, resolvedBy string, resolvedAt time.Time) (bool, error)
}

type riskRepository struct {
	db *gorm.DB
}

// NewRiskRepository creates a RiskRepository backed by gorm.
func NewRiskRepository(db *gorm.DB) RiskRepository {
	return &riskRepository{db: db}
}

func (r *riskRepository) TreasuryBalance(ctx context.Context, chain models.Chain, asset string) (decimal.Decimal, error) {
	var balance models.TreasuryBalance
	err := r.db.WithContext(ctx).
		Where("chain = ? AND asset = ?", chain, asset).
		First(&balance).Error
	if err == gorm.ErrRecordNotFound {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance.Balance, nil
}

func (r *riskRepository) DailySpent(ctx context.Context, chain models.Chain, date string) (decimal.Decimal, error) {
	var spending models.DailySpending
	err := r.db.WithContext(ctx).
		Where("chain = ? AND date = ?", chain, date).
		First(&spending).Error
	if err == gorm.ErrRecordNotFound {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return spending.AmountSpent, nil
}

// lockForUpdate adds SELECT ... FOR UPDATE where the dialect supports
// it. SQLite serializes writers on its own and rejects the clause.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// ApplySpend does the read-modify-write under SELECT ... FOR UPDATE inside
// one transaction. Increments for the same (chain, date) serialize on the
// row lock; there is no lost update.
func (r *riskRepository) ApplySpend(ctx context.Context, chain models.Chain, asset string, amount decimal.Decimal, date string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var spending models.DailySpending
		err := lockForUpdate(tx).
			Where("chain = ? AND date = ?", chain, date).
			First(&spending).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			spending = models.DailySpending{
				Chain:            chain,
				Date:             date,
				AmountSpent:      amount,
				TransactionCount: 1,
				UpdatedAt:        now,
			}
			if err := tx.Create(&spending).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := tx.Model(&spending).Updates(map[string]interface{}{
				"amount_spent":      spending.AmountSpent.Add(amount),
				"transaction_count": spending.TransactionCount + 1,
				"updated_at":        now,
			}).Error; err != nil {
				return err
			}
		}

		return adjustTreasury(tx, chain, asset, amount.Neg(), now)
	})
}

func (r *riskRepository) ApplyDeposit(ctx context.Context, chain models.Chain, asset string, amount decimal.Decimal) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return adjustTreasury(tx, chain, asset, amount, now)
	})
}

func adjustTreasury(tx *gorm.DB, chain models.Chain, asset string, delta decimal.Decimal, now time.Time) error {
	var balance models.TreasuryBalance
	err := lockForUpdate(tx).
		Where("chain = ? AND asset = ?", chain, asset).
		First(&balance).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		return tx.Create(&models.TreasuryBalance{
			Chain:     chain,
			Asset:     asset,
			Balance:   delta,
			UpdatedAt: now,
		}).Error
	case err != nil:
		return err
	}
	return tx.Model(&balance).Updates(map[string]interface{}{
		"balance":    balance.Balance.Add(delta),
		"updated_at": now,
	}).Error
}

// OpenBreaker returns the currently open trip for a chain, or nil.
func (r *riskRepository) OpenBreaker(ctx context.Context, chain models.Chain) (*models.CircuitBreakerState, error) {
	var state models.CircuitBreakerState
	err := r.db.WithContext(ctx).
		Where("chain = ? AND resolved_at IS NULL", chain).
		Order("triggered_at DESC").
		First(&state).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// TripBreaker opens a new interval unless one is already open, in which
// case the existing trip is returned unchanged.
func (r *riskRepository) TripBreaker(ctx context.Context, chain models.Chain, reason, triggeredBy string) (*models.CircuitBreakerState, error) {
	existing, err := r.OpenBreaker(ctx, chain)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	state := &models.CircuitBreakerState{
		Chain:       chain,
		Reason:      reason,
		TriggeredBy: triggeredBy,
		TriggeredAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(state).Error; err != nil {
		return nil, err
	}
	return state, nil
}

// ResolveBreaker closes the open interval. Returns false when no trip was
// open for the chain.
func (r *riskRepository) ResolveBreaker(ctx context.Context, chain models.Chain, resolvedBy string, resolvedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CircuitBreakerState{}).
		Where("chain = ? AND resolved_at IS NULL", chain).
		Updates(map[string]interface{}{
			"resolved_by": resolvedBy,
			"resolved_at": resolvedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
