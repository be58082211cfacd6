package repository

import (
	"context"

	"tripchat/internal/models"

	"gorm.io/gorm"
)

// UserRepository reads the identities the messaging core references.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	IsAdmin(ctx context.Context, id uint) (bool, error)
	SetAdmin(ctx context.Context, id uint, admin bool) error
	ListAdmins(ctx context.Context) ([]models.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a gorm-backed UserRepository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, u *models.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// IsAdmin reports the global admin capability. Unknown users are not admins.
func (r *userRepository) IsAdmin(ctx context.Context, id uint) (bool, error) {
	var admin bool
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Select("is_admin").
		Where("id = ?", id).
		Scan(&admin).Error
	return admin, err
}

func (r *userRepository) SetAdmin(ctx context.Context, id uint, admin bool) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("is_admin", admin).Error
}

func (r *userRepository) ListAdmins(ctx context.Context) ([]models.User, error) {
	var admins []models.User
	err := r.db.WithContext(ctx).Where("is_admin = ?", true).Order("id").Find(&admins).Error
	return admins, err
}
