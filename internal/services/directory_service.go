package services

import (
	"context"

	"checkops/internal/models"

	"gorm.io/gorm"
)

// UserDirectory resolves the current membership of a role. Round-robin
// rotation follows the order this returns, so implementations must be stable
// between calls.
type UserDirectory interface {
	ListUsersByRole(ctx context.Context, role string) ([]models.User, error)
}

// DBUserDirectory 基于用户表的目录实现。
// Ordering contract: active users holding the role, ascending id.
type DBUserDirectory struct {
	db *gorm.DB
}

func NewDBUserDirectory(db *gorm.DB) *DBUserDirectory {
	return &DBUserDirectory{db: db}
}

func (d *DBUserDirectory) ListUsersByRole(ctx context.Context, role string) ([]models.User, error) {
	var users []models.User
	err := d.db.WithContext(ctx).
		Where("role = ? AND status = ?", role, "active").
		Order("id ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
