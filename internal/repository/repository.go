package repository

import (
	"context"
	"database/sql"
	"errors"

	"parking_barrier/internal/models"
)

// ErrDuplicateEmail is returned when a user with the same email exists.
var ErrDuplicateEmail = errors.New("email already registered")

type Authorization interface {
	Create(email, hash string) (int, error)
	GetByEmail(email string) (*models.User, error)
	GetByID(id int) (*models.User, error)
	UpdatePassword(id int, hash string) error
}

// AuditRepo is the append-only history store.
type AuditRepo interface {
	Append(ctx context.Context, r models.AuditRecord) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.AuditRecord, error)
}

type Repository struct {
	AuditRepo AuditRepo
	Auth      Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		AuditRepo: NewAuditSQLite(db),
		Auth:      NewUserRepository(db),
	}
}
