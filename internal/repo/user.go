package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nstepanenko/webstore/internal/models"
)

var ErrUserAlreadyExist = errors.New("user already exist")

// CreateUser persists a new user. The caller hashes the password and
// normalizes the email before calling.
func (r *GormRepo) CreateUser(ctx context.Context, u *models.User) error {
	tx := r.DB.WithContext(ctx).Where("email = ?", u.Email).FirstOrCreate(u)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrUserAlreadyExist
	}
	return nil
}

func (r *GormRepo) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *GormRepo) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *GormRepo) ListUsers(ctx context.Context, offset, limit int) (int64, []models.User, error) {
	var total int64
	if err := r.DB.WithContext(ctx).Model(&models.User{}).Count(&total).Error; err != nil {
		return 0, nil, err
	}

	var users []models.User
	if err := r.DB.WithContext(ctx).Model(&models.User{}).
		Order("created_at ASC").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return 0, nil, err
	}
	return total, users, nil
}

// UpdateUserFields applies an allow-listed set of column updates.
func (r *GormRepo) UpdateUserFields(ctx context.Context, id uuid.UUID, fields map[string]any) (*models.User, error) {
	res := r.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.FindUserByID(ctx, id)
}

// SetPassword stores the new hash and bumps password_changed_at in a single
// update, so access tokens issued before this moment stop validating.
func (r *GormRepo) SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	res := r.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]any{
		"password_hash":       passwordHash,
		"password_changed_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *GormRepo) SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	return r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).Update("email_verified", verified).Error
}

func (r *GormRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *GormRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).Update("last_login_at", now).Error
}

// DeleteUser hard-deletes a user and every ledger row that references them.
// Explicit admin action only.
func (r *GormRepo) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.Token{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.User{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
