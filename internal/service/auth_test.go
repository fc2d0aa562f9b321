package service

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nstepanenko/webstore/internal/models"
	"github.com/nstepanenko/webstore/internal/repo"
	"github.com/nstepanenko/webstore/pkg/tokens"
)

type recordingNotifier struct {
	verifyTokens []string
	resetTokens  []string
	welcomes     []string
}

func (n *recordingNotifier) SendVerificationEmail(ctx context.Context, to, token string) error {
	n.verifyTokens = append(n.verifyTokens, token)
	return nil
}

func (n *recordingNotifier) SendResetPasswordEmail(ctx context.Context, to, token string) error {
	n.resetTokens = append(n.resetTokens, token)
	return nil
}

func (n *recordingNotifier) SendWelcomeEmail(ctx context.Context, to, name string) error {
	n.welcomes = append(n.welcomes, to)
	return nil
}

type authEnv struct {
	svc  *AuthService
	rp   *repo.GormRepo
	mail *recordingNotifier
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	rp := &repo.GormRepo{DB: db}
	mail := &recordingNotifier{}

	return &authEnv{
		rp:   rp,
		mail: mail,
		svc: &AuthService{
			Repo:          rp,
			Notifier:      mail,
			JWTSecret:     []byte("test-jwt-secret"),
			RefreshSecret: []byte("test-refresh-secret"),
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    24 * time.Hour,
			SingleUseTTL:  30 * time.Minute,
		},
	}
}

func TestAuthService_CreateAccessToken_SetsExpectedClaims(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	accessExp := time.Now().Add(15 * time.Minute).UTC()

	token, err := env.svc.CreateAccessToken("admin", "some-user-id", accessExp)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tokens.AccessClaimsFromToken(token, env.svc.JWTSecret)
	require.NoError(t, err)

	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "some-user-id", claims.Subject)
	require.NotNil(t, claims.IssuedAt)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, accessExp, claims.ExpiresAt.Time, time.Second)
}

func TestAuthService_Register_Validation(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{name: "empty email", email: "", password: "abc12345"},
		{name: "email without at", email: "not-an-email", password: "abc12345"},
		{name: "short password", email: "a@x.com", password: "abc123"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			user, err := env.svc.Register(ctx, tt.email, "Test", tt.password)
			require.Error(t, err)
			assert.Nil(t, user)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestAuthService_RegisterThenLogin(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	ctx := context.Background()

	user, err := env.svc.Register(ctx, "a@x.com", "Alice", "abc12345")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "a@x.com", user.Email)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.False(t, user.EmailVerified)
	assert.NotEqual(t, "abc12345", user.PasswordHash)

	loggedIn, pair, err := env.svc.Login(ctx, "a@x.com", "abc12345")
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, user.ID, loggedIn.ID)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	stored, err := env.rp.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)
}

func TestAuthService_Register_DuplicateEmail(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "a@x.com", "Alice", "abc12345")
	require.NoError(t, err)

	// Same address with different casing is still a conflict.
	_, err = env.svc.Register(ctx, "A@X.com", "Other", "abc12345")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAuthService_Login_SameErrorForAllFailures(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "a@x.com", "Alice", "abc12345")
	require.NoError(t, err)

	_, _, unknownErr := env.svc.Login(ctx, "nobody@x.com", "abc12345")
	_, _, badPassErr := env.svc.Login(ctx, "a@x.com", "wrong-password")

	require.Error(t, unknownErr)
	require.Error(t, badPassErr)
	assert.ErrorIs(t, unknownErr, ErrUnauthorized)
	assert.ErrorIs(t, badPassErr, ErrUnauthorized)
	assert.Equal(t, unknownErr.Error(), badPassErr.Error())
}

func TestAuthService_Login_NoLockoutAfterFailures(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "a@x.com", "Alice", "abc12345")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := env.svc.Login(ctx, "a@x.com", "wrong-password")
		require.ErrorIs(t, err, ErrUnauthorized)
	}

	_, pair, err := env.svc.Login(ctx, "a@x.com", "abc12345")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestAuthService_Login_DeactivatedAccount(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	ctx := context.Background()

	user, err := env.svc.Register(ctx, "a@x.com", "Alice", "abc12345")
	require.NoError(t, err)
	require.NoError(t, env.rp.SetActive(ctx, user.ID, false))

	_, _, err = env.svc.Login(ctx, "a@x.com", "abc12345")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthService_Refresh_RotatesAndRejectsReplay(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "a@x.com", "Alice", "abc12345")
	require.NoError(t, err)
	_, pair, err := env.svc.Login(ctx, "a@x.com", "abc12345")
	require.NoError(t, err)

	rotated, err := env.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, rotated)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The consumed token must never rotate twice.
	replayed, err := env.svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	assert.Nil(t, replayed)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// The new token still works.
	_, err = env.svc.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)
}

func TestAuthService_Refresh_GarbageToken(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	res, err := env.svc.Refresh(context.Background(), "not-a-valid-jwt")

	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthService_LogOut_InvalidatesOnlyThatSession(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "a@x.com", "Alice", "abc12345")
	require.NoError(t, err)

	_, first, err := env.svc.Login(ctx, "a@x.com", "abc12345")
	require.NoError(t, err)
	_, second, err := env.svc.Login(ctx, "a@x.com", "abc12345")
	require.NoError(t, err)

	require.NoError(t, env.svc.LogOut(ctx, first.RefreshToken))

	_, err = env.svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestAuthService_LogOut_UnknownToken(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	err := env.svc.LogOut(context.Background(), "never-issued")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthService_ChangePassword(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	ctx := context.Background()

	user, err := env.svc.Register(ctx, "a@x.com", "Alice", "abc12345")
	require.NoError(t, err)
	_, oldPair, err := env.svc.Login(ctx, "a@x.com", "abc12345")
	require.NoError(t, err)

	err = env.svc.ChangePassword(ctx, user.ID, "wrong-password", "newpass123")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, env.svc.ChangePassword(ctx, user.ID, "abc12345", "newpass123"))

	// Every refresh token issued before the change is dead.
	_, err = env.svc.Refresh(ctx, oldPair.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Old password no longer logs in, the new one does and its tokens work.
	_, _, err = env.svc.Login(ctx, "a@x.com", "abc12345")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, newPair, err := env.svc.Login(ctx, "a@x.com", "newpass123")
	require.NoError(t, err)
	_, err = env.svc.Refresh(ctx, newPair.RefreshToken)
	require.NoError(t, err)
}

func TestAuthService_ForgotPassword_NoAccountEnumeration(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "a@x.com", "Alice", "abc12345")
	require.NoError(t, err)

	require.NoError(t, env.svc.ForgotPassword(ctx, "a@x.com"))
	require.NoError(t, env.svc.ForgotPassword(ctx, "nobody@x.com"))

	// Only the registered address actually got a reset token.
	assert.Len(t, env.mail.resetTokens, 1)
}

func TestAuthService_ResetPassword_FullFlow(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "a@x.com", "Alice", "abc12345")
	require.NoError(t, err)
	_, oldPair, err := env.svc.Login(ctx, "a@x.com", "abc12345")
	require.NoError(t, err)

	require.NoError(t, env.svc.ForgotPassword(ctx, "a@x.com"))
	require.Len(t, env.mail.resetTokens, 1)
	resetToken := env.mail.resetTokens[0]

	require.NoError(t, env.svc.ResetPassword(ctx, resetToken, "newpass123"))

	// Reset forces logout everywhere and consumes the reset token.
	_, err = env.svc.Refresh(ctx, oldPair.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = env.svc.ResetPassword(ctx, resetToken, "anotherpass1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, _, err = env.svc.Login(ctx, "a@x.com", "abc12345")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, _, err = env.svc.Login(ctx, "a@x.com", "newpass123")
	require.NoError(t, err)
}

func TestAuthService_ResetPassword_BadToken(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	err := env.svc.ResetPassword(context.Background(), "bogus", "newpass123")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthService_VerifyEmail_Flow(t *testing.T) {
	t.Parallel()

	env := newAuthEnv(t)
	ctx := context.Background()

	user, err := env.svc.Register(ctx, "a@x.com", "Alice", "abc12345")
	require.NoError(t, err)
	require.Len(t, env.mail.verifyTokens, 1)
	verifyToken := env.mail.verifyTokens[0]

	require.NoError(t, env.svc.VerifyEmail(ctx, verifyToken))

	stored, err := env.rp.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)
	assert.Len(t, env.mail.welcomes, 1)

	// Consuming verification deletes every verify record for the user.
	err = env.svc.VerifyEmail(ctx, verifyToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
