package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/healpoint/clinic/internal/platform/auth"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id uuid.UUID) error
	// List returns users ordered by creation time; a nil role lists everyone.
	List(ctx context.Context, role *auth.Role) ([]*User, error)
	// FirstActive returns the earliest created active user with the role.
	FirstActive(ctx context.Context, role auth.Role) (*User, error)
}
