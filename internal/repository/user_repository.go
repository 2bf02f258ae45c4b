package repository

import (
	"context"

	"crosspay/internal/models"

	"gorm.io/gorm"
)

// UserRepository defines data access for users and their wallet addresses.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByWallet(ctx context.Context, chain models.Chain, address string) (*models.User, error)
	AddWallet(ctx context.Context, wallet *models.WalletAddress) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a UserRepository backed by gorm.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Preload("Wallets").
		Where("id = ?", id).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByWallet(ctx context.Context, chain models.Chain, address string) (*models.User, error) {
	var wallet models.WalletAddress
	err := r.db.WithContext(ctx).
		Where("chain = ? AND address = ?", chain, address).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, wallet.UserID)
}

func (r *userRepository) AddWallet(ctx context.Context, wallet *models.WalletAddress) error {
	return r.db.WithContext(ctx).Create(wallet).Error
}
