package auth

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-pm/meridian-pm/internal/authz"
	"github.com/meridian-pm/meridian-pm/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// MayImpersonate reports whether the user is allowed to store a "view
// as" role at all. This is a coarse gate for the endpoint; the
// resolver re-checks full admin capability per project, so a stored
// role can never grant privilege the actor does not already hold.
func (s *Service) MayImpersonate(ctx context.Context, userID int64, role authz.Role) (bool, error) {
	if !authz.Impersonable(role) {
		return false, nil
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.IsSystemAdmin {
		return true, nil
	}
	return s.repo.IsOrgAdmin(ctx, userID)
}
