package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nstepanenko/webstore/internal/models"
	"github.com/nstepanenko/webstore/internal/repo"
	"github.com/nstepanenko/webstore/internal/roles"
	"github.com/nstepanenko/webstore/internal/transport"
	"github.com/nstepanenko/webstore/pkg/logging"
	"github.com/nstepanenko/webstore/pkg/tokens"
)

type UserService struct {
	Repo *repo.GormRepo
	Auth *AuthService
}

func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.Repo.FindUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user", ErrNotFound)
		}
		return nil, err
	}
	return user, nil
}

func (s *UserService) ListUsers(ctx context.Context, offset, limit int) (int64, []models.User, error) {
	return s.Repo.ListUsers(ctx, offset, limit)
}

// UpdateProfile applies the self-service allow-list: name and email only.
// An email change resets the verified flag and re-sends verification.
func (s *UserService) UpdateProfile(ctx context.Context, userID uuid.UUID, req transport.UpdateProfileRequest) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "user.update_profile", "user_id", userID)

	fields := map[string]any{}
	if req.Name != nil {
		if *req.Name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrValidation)
		}
		fields["name"] = *req.Name
	}

	emailChanged := false
	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		if err := validateEmailTaken(ctx, s.Repo, email, userID); err != nil {
			return nil, err
		}
		fields["email"] = email
		fields["email_verified"] = false
		emailChanged = true
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}

	user, err := s.Repo.UpdateUserFields(ctx, userID, fields)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user", ErrNotFound)
		}
		return nil, err
	}

	if emailChanged {
		if verifyToken, err := s.Auth.IssueSingleUse(ctx, user.ID, tokens.KindVerify); err != nil {
			l.Error("verify_token_issue_failed", "error", err)
		} else if err := s.Auth.Notifier.SendVerificationEmail(ctx, user.Email, verifyToken); err != nil {
			l.Error("verify_email_send_failed", "error", err)
		}
	}

	return user, nil
}

func (s *UserService) AdminUpdateUser(ctx context.Context, id uuid.UUID, req transport.AdminUpdateUserRequest) (*models.User, error) {
	fields := map[string]any{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		if err := validateEmailTaken(ctx, s.Repo, email, id); err != nil {
			return nil, err
		}
		fields["email"] = email
		fields["email_verified"] = false
	}
	if req.Role != nil {
		if !roles.Known(*req.Role) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, *req.Role)
		}
		fields["role"] = *req.Role
	}
	if req.Active != nil {
		fields["active"] = *req.Active
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}

	user, err := s.Repo.UpdateUserFields(ctx, id, fields)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user", ErrNotFound)
		}
		return nil, err
	}

	// Deactivation kills all open sessions, not just future logins.
	if req.Active != nil && !*req.Active {
		if err := s.Repo.RevokeAllForUser(ctx, id, tokens.KindRefresh); err != nil {
			return nil, err
		}
	}

	return user, nil
}

func (s *UserService) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if err := s.Repo.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: user", ErrNotFound)
		}
		return err
	}
	return nil
}

func validateEmailTaken(ctx context.Context, r *repo.GormRepo, email string, selfID uuid.UUID) error {
	existing, err := r.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if existing.ID != selfID {
		return fmt.Errorf("%w: email already registered", ErrConflict)
	}
	return nil
}
