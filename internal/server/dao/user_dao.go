package dao

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"rtmpipe/internal/common"
	"rtmpipe/internal/server/model"
)

type UserDAO interface {
	// create user
	Create(ctx context.Context, user *model.User) error
	// get user by id
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	// get user by username
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// create the user or replace its password and role
	Upsert(ctx context.Context, user *model.User) error
}

type userDAO struct {
}

func NewUserDAO() UserDAO {
	return &userDAO{}
}

func (d *userDAO) Create(ctx context.Context, user *model.User) error {
	return db.WithContext(ctx).Create(user).Error
}

func (d *userDAO) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	var user model.User
	err := db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (d *userDAO) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewErrNo(common.UserNotExists)
		}
		return nil, err
	}
	return &user, nil
}

func (d *userDAO) Upsert(ctx context.Context, user *model.User) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.User
		if err := tx.Where("username = ?", user.Username).Take(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(user).Error
			}
			return err
		}
		existing.Password = user.Password
		existing.Role = user.Role
		return tx.Save(&existing).Error
	})
}
