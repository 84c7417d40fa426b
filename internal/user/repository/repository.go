package repository

import (
	"context"

	"registry-portal/backend/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// Create inserts the user. Returns domain.ErrEmailTaken when the email already exists.
	Create(ctx context.Context, u *domain.User) error
	// UpdatePasswordHash replaces the password hash. It joins a transaction carried by ctx.
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	// UpdateProfile updates first name, last name and phone.
	UpdateProfile(ctx context.Context, u *domain.User) error
}
