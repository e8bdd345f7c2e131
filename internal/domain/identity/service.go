package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healpoint/clinic/internal/platform/apperr"
	"github.com/healpoint/clinic/internal/platform/auth"
)

// ErrInvalidCredentials is returned for an unknown user, a wrong password or
// an inactive account alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

type Service struct {
	users  UserRepository
	tokens *auth.TokenIssuer
	authz  auth.Authorizer
	logger zerolog.Logger
}

func NewService(users UserRepository, tokens *auth.TokenIssuer, authz auth.Authorizer, logger zerolog.Logger) *Service {
	return &Service{users: users, tokens: tokens, authz: authz, logger: logger.With().Str("component", "identity").Logger()}
}

// -- Authentication --

func (s *Service) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.Active || !u.CheckPassword(password) {
		s.logger.Info().Str("username", username).Msg("login rejected")
		return nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.Issue(u.Principal())
	if err != nil {
		return nil, err
	}
	return &LoginResponse{TokenPair: pair, User: u}, nil
}

// Refresh exchanges a refresh token for a new pair. The user is reloaded so
// a role change or deactivation takes effect at the next refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*LoginResponse, error) {
	p, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	u, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.Active {
		return nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.Issue(u.Principal())
	if err != nil {
		return nil, err
	}
	return &LoginResponse{TokenPair: pair, User: u}, nil
}

func (s *Service) Profile(ctx context.Context) (*User, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, apperr.Permission(string(auth.ActionRead), "profile", "no authenticated user")
	}
	if p.UserID == uuid.Nil {
		// Development principal without a backing row.
		return &User{Username: p.Username, Role: p.Role, Active: true}, nil
	}
	return s.users.GetByID(ctx, p.UserID)
}

// -- User administration --

func (s *Service) CreateUser(ctx context.Context, req *CreateUserRequest) (*User, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionCreate, auth.ResourceUser); err != nil {
		return nil, err
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		return nil, apperr.Validation("role", err.Error())
	}

	u := &User{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      role,
		Active:    true,
	}
	if err := u.SetPassword(req.Password); err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", string(u.Role)).Msg("user created")
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionRead, auth.ResourceUser); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, role *auth.Role) ([]*User, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionList, auth.ResourceUser); err != nil {
		return nil, err
	}
	return s.users.List(ctx, role)
}

func (s *Service) UpdateUser(ctx context.Context, id uuid.UUID, req *UpdateUserRequest) (*User, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionUpdate, auth.ResourceUser); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Email != nil {
		u.Email = *req.Email
	}
	if req.FirstName != nil {
		u.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		u.LastName = *req.LastName
	}
	if req.Role != nil {
		role, err := auth.ParseRole(*req.Role)
		if err != nil {
			return nil, apperr.Validation("role", err.Error())
		}
		u.Role = role
	}
	if req.Active != nil {
		u.Active = *req.Active
	}
	if req.Password != nil {
		if err := u.SetPassword(*req.Password); err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
	}

	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	p, err := auth.Authorize(ctx, s.authz, auth.ActionDelete, auth.ResourceUser)
	if err != nil {
		return err
	}
	if p.UserID == id {
		return apperr.Validation("id", "you cannot delete your own account")
	}
	return s.users.Delete(ctx, id)
}

// -- Doctor directory --

// Doctor returns the active doctor with the given id. Any other user, or a
// missing one, is reported as not found.
func (s *Service) Doctor(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsDoctor() || !u.Active {
		return nil, apperr.NotFound("doctor", id)
	}
	return u, nil
}

// DefaultDoctor is the doctor assigned to patients registered without one:
// the earliest created active doctor. It returns nil when the clinic has no
// doctors yet.
func (s *Service) DefaultDoctor(ctx context.Context) (*User, error) {
	u, err := s.users.FirstActive(ctx, auth.RoleDoctor)
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	return u, err
}
