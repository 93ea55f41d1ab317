package repository

import (
	"context"

	"github.com/esimlab/esimbroker/internal/domain/model"
)

// UserRepository describes persistence operations with users.
type UserRepository interface {
	GetOrCreate(ctx context.Context, chatID int64, locale string) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByChatID(ctx context.Context, chatID int64) (*model.User, error)
	UpdateLocale(ctx context.Context, id int64, locale string) error
}
