package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nstepanenko/webstore/internal/models"
	"github.com/nstepanenko/webstore/internal/notifier"
	"github.com/nstepanenko/webstore/internal/repo"
	pkg_hash "github.com/nstepanenko/webstore/pkg/hash"
	"github.com/nstepanenko/webstore/pkg/logging"
	"github.com/nstepanenko/webstore/pkg/tokens"
)

const minPasswordLen = 8

// AuthService composes the credential store, the token issuer and the token
// ledger into the account flows. It keeps no state of its own: everything
// crosses through the repo.
type AuthService struct {
	Repo     *repo.GormRepo
	Notifier notifier.Notifier

	JWTSecret     []byte
	RefreshSecret []byte

	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	SingleUseTTL time.Duration
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

func (h *AuthService) CreateAccessToken(role, id string, accessExp time.Time) (string, error) {
	accessClaims := tokens.AccessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	}

	tokenAccess := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims)
	accessToken, err := tokenAccess.SignedString(h.JWTSecret)
	if err != nil {
		return "", err
	}
	return accessToken, nil
}

func (h *AuthService) createSessionToken(id, kind string, exp time.Time) (string, error) {
	claims := tokens.SessionClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        tokens.NewJTI(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.RefreshSecret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// issuePair mints a stateless access token and a ledger-backed refresh token.
// The refresh token is persisted before it is returned to the caller.
func (h *AuthService) issuePair(ctx context.Context, user *models.User) (*TokenPair, error) {
	accessExp := time.Now().Add(h.AccessTTL)
	accessToken, err := h.CreateAccessToken(user.Role, user.ID.String(), accessExp)
	if err != nil {
		return nil, err
	}

	refreshExp := time.Now().Add(h.RefreshTTL)
	refreshToken, err := h.createSessionToken(user.ID.String(), tokens.KindRefresh, refreshExp)
	if err != nil {
		return nil, err
	}

	claims, err := tokens.SessionClaimsFromToken(refreshToken, h.RefreshSecret, tokens.KindRefresh)
	if err != nil {
		return nil, err
	}
	if err := h.Repo.SaveToken(ctx, refreshToken, user.ID, tokens.KindRefresh, claims.ID, refreshExp); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// IssueSingleUse mints a ledger-backed reset or verify token. Delivery is the
// caller's concern.
func (h *AuthService) IssueSingleUse(ctx context.Context, userID uuid.UUID, kind string) (string, error) {
	exp := time.Now().Add(h.SingleUseTTL)
	token, err := h.createSessionToken(userID.String(), kind, exp)
	if err != nil {
		return "", err
	}

	claims, err := tokens.SessionClaimsFromToken(token, h.RefreshSecret, kind)
	if err != nil {
		return "", err
	}
	if err := h.Repo.SaveToken(ctx, token, userID, kind, claims.ID, exp); err != nil {
		return "", err
	}
	return token, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLen)
	}
	return nil
}

func (h *AuthService) Register(ctx context.Context, email, name, password string) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	pwHash, err := pkg_hash.HashPassword(password)
	if err != nil {
		l.Error("register_error", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	user := &models.User{
		Email:        normalizeEmail(email),
		Name:         name,
		PasswordHash: pwHash,
		Role:         models.RoleUser,
		Active:       true,
	}

	if err := h.Repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repo.ErrUserAlreadyExist) {
			l.Warn("register_error", "status", 409, "reason", "email already registered")
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		l.Error("register_error", "status", 500, "error", err)
		return nil, err
	}

	// Delivery is best-effort: registration already succeeded.
	if verifyToken, err := h.IssueSingleUse(ctx, user.ID, tokens.KindVerify); err != nil {
		l.Error("verify_token_issue_failed", "user_id", user.ID, "error", err)
	} else if err := h.Notifier.SendVerificationEmail(ctx, user.Email, verifyToken); err != nil {
		l.Error("verify_email_send_failed", "user_id", user.ID, "error", err)
	}

	return user, nil
}

// Login returns the same ErrUnauthorized for a missing user, a wrong password
// and a deactivated account, so responses do not reveal which check failed.
func (h *AuthService) Login(ctx context.Context, email, password string) (*models.User, *TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	user, err := h.Repo.FindUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			l.Warn("login_failed", "status", 401, "reason", "unknown email")
			return nil, nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
		}
		l.Error("login_failed", "status", 500, "error", err)
		return nil, nil, err
	}

	if !pkg_hash.CheckPassword(user.PasswordHash, password) {
		l.Warn("login_failed", "status", 401, "reason", "bad password", "user_id", user.ID)
		return nil, nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}

	if !user.Active {
		l.Warn("login_failed", "status", 401, "reason", "account deactivated", "user_id", user.ID)
		return nil, nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}

	if err := h.Repo.UpdateLastLogin(ctx, user.ID); err != nil {
		l.Error("last_login_update_failed", "user_id", user.ID, "error", err)
	}

	pair, err := h.issuePair(ctx, user)
	if err != nil {
		l.Error("login_failed", "status", 500, "error", err)
		return nil, nil, err
	}

	l.Info("login_successful", "user_id", user.ID)
	return user, pair, nil
}

// Refresh rotates a refresh token: the presented token is consumed atomically
// before a new pair is issued, so it is valid for exactly one rotation.
// Replay after a successful rotation always fails with ErrUnauthorized.
func (h *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	claims, err := tokens.SessionClaimsFromToken(refreshToken, h.RefreshSecret, tokens.KindRefresh)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	}

	if err := h.Repo.ConsumeToken(ctx, refreshToken, tokens.KindRefresh); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			l.Warn("refresh_failed", "status", 401, "reason", "token absent, revoked or replayed")
			return nil, fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
		}
		l.Error("refresh_failed", "status", 500, "error", err)
		return nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	}

	user, err := h.Repo.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			l.Warn("refresh_failed", "status", 401, "reason", "user no longer exists")
			return nil, fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
		}
		l.Error("refresh_failed", "status", 500, "error", err)
		return nil, err
	}
	if !user.Active {
		l.Warn("refresh_failed", "status", 401, "reason", "account deactivated", "user_id", user.ID)
		return nil, fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	}

	pair, err := h.issuePair(ctx, user)
	if err != nil {
		l.Error("refresh_failed", "status", 500, "error", err)
		return nil, err
	}

	l.Info("refresh_successful", "user_id", user.ID)
	return pair, nil
}

// LogOut invalidates only the session tied to the presented refresh token.
func (h *AuthService) LogOut(ctx context.Context, refreshToken string) error {
	l := logging.FromContext(ctx).With("svc", "auth.logout")

	if err := h.Repo.RevokeToken(ctx, refreshToken, tokens.KindRefresh); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			l.Warn("logout_failed", "status", 404, "reason", "no matching session")
			return fmt.Errorf("%w: session not found", ErrNotFound)
		}
		l.Error("logout_failed", "status", 500, "error", err)
		return err
	}

	l.Info("logout_successful")
	return nil
}

// ForgotPassword answers identically whether or not the email is registered.
func (h *AuthService) ForgotPassword(ctx context.Context, email string) error {
	l := logging.FromContext(ctx).With("svc", "auth.forgot_password")

	user, err := h.Repo.FindUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			l.Info("forgot_password_unknown_email")
			return nil
		}
		l.Error("forgot_password_failed", "status", 500, "error", err)
		return err
	}

	resetToken, err := h.IssueSingleUse(ctx, user.ID, tokens.KindReset)
	if err != nil {
		l.Error("reset_token_issue_failed", "user_id", user.ID, "error", err)
		return err
	}

	if err := h.Notifier.SendResetPasswordEmail(ctx, user.Email, resetToken); err != nil {
		l.Error("reset_email_send_failed", "user_id", user.ID, "error", err)
	}
	return nil
}

// ResetPassword collapses every failure in the verify chain into one
// ErrUnauthorized so the response does not reveal which step failed.
func (h *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	l := logging.FromContext(ctx).With("svc", "auth.reset_password")

	if len(newPassword) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLen)
	}

	failed := fmt.Errorf("%w: password reset failed", ErrUnauthorized)

	claims, err := tokens.SessionClaimsFromToken(resetToken, h.RefreshSecret, tokens.KindReset)
	if err != nil {
		l.Warn("reset_password_failed", "status", 401, "reason", "bad token signature")
		return failed
	}

	if _, err := h.Repo.FindValidToken(ctx, resetToken, tokens.KindReset); err != nil {
		l.Warn("reset_password_failed", "status", 401, "reason", "no valid ledger record")
		return failed
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return failed
	}
	user, err := h.Repo.FindUserByID(ctx, userID)
	if err != nil {
		l.Warn("reset_password_failed", "status", 401, "reason", "user not found")
		return failed
	}

	pwHash, err := pkg_hash.HashPassword(newPassword)
	if err != nil {
		l.Error("reset_password_failed", "status", 500, "error", err)
		return err
	}
	if err := h.Repo.SetPassword(ctx, user.ID, pwHash); err != nil {
		l.Error("reset_password_failed", "status", 500, "error", err)
		return err
	}

	// Force re-authentication everywhere.
	if err := h.Repo.RevokeAllForUser(ctx, user.ID, tokens.KindReset, tokens.KindRefresh); err != nil {
		l.Error("reset_password_revoke_failed", "user_id", user.ID, "error", err)
		return err
	}

	l.Info("reset_password_successful", "user_id", user.ID)
	return nil
}

func (h *AuthService) VerifyEmail(ctx context.Context, verifyToken string) error {
	l := logging.FromContext(ctx).With("svc", "auth.verify_email")

	failed := fmt.Errorf("%w: email verification failed", ErrUnauthorized)

	claims, err := tokens.SessionClaimsFromToken(verifyToken, h.RefreshSecret, tokens.KindVerify)
	if err != nil {
		l.Warn("verify_email_failed", "status", 401, "reason", "bad token signature")
		return failed
	}

	if _, err := h.Repo.FindValidToken(ctx, verifyToken, tokens.KindVerify); err != nil {
		l.Warn("verify_email_failed", "status", 401, "reason", "no valid ledger record")
		return failed
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return failed
	}
	user, err := h.Repo.FindUserByID(ctx, userID)
	if err != nil {
		l.Warn("verify_email_failed", "status", 401, "reason", "user not found")
		return failed
	}

	if err := h.Repo.RevokeAllForUser(ctx, user.ID, tokens.KindVerify); err != nil {
		l.Error("verify_email_failed", "status", 500, "error", err)
		return err
	}
	if err := h.Repo.SetEmailVerified(ctx, user.ID, true); err != nil {
		l.Error("verify_email_failed", "status", 500, "error", err)
		return err
	}

	if err := h.Notifier.SendWelcomeEmail(ctx, user.Email, user.Name); err != nil {
		l.Error("welcome_email_send_failed", "user_id", user.ID, "error", err)
	}

	l.Info("verify_email_successful", "user_id", user.ID)
	return nil
}

// ChangePassword requires the current password and revokes every refresh
// token afterwards. The session's own access token stays valid until its
// short expiry; accepted residual risk.
func (h *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	l := logging.FromContext(ctx).With("svc", "auth.change_password", "user_id", userID)

	if len(newPassword) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLen)
	}

	user, err := h.Repo.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: user not found", ErrNotFound)
		}
		l.Error("change_password_failed", "status", 500, "error", err)
		return err
	}

	if !pkg_hash.CheckPassword(user.PasswordHash, currentPassword) {
		l.Warn("change_password_failed", "status", 400, "reason", "wrong current password")
		return fmt.Errorf("%w: current password is incorrect", ErrValidation)
	}

	pwHash, err := pkg_hash.HashPassword(newPassword)
	if err != nil {
		l.Error("change_password_failed", "status", 500, "error", err)
		return err
	}
	if err := h.Repo.SetPassword(ctx, user.ID, pwHash); err != nil {
		l.Error("change_password_failed", "status", 500, "error", err)
		return err
	}

	if err := h.Repo.RevokeAllForUser(ctx, user.ID, tokens.KindRefresh); err != nil {
		l.Error("change_password_revoke_failed", "error", err)
		return err
	}

	l.Info("change_password_successful")
	return nil
}
