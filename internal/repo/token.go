package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nstepanenko/webstore/internal/models"
	"github.com/nstepanenko/webstore/pkg/tokens"
)

// SaveToken records a signed token in the ledger. Idempotent per token
// string: re-saving an already stored token is a no-op.
func (r *GormRepo) SaveToken(ctx context.Context, tokenStr string, userID uuid.UUID, kind, jti string, expiresAt time.Time) error {
	record := models.Token{
		Fingerprint: tokens.Sha256Hex(tokenStr),
		UserID:      userID,
		Kind:        kind,
		JTI:         jti,
		ExpiresAt:   expiresAt.Unix(),
	}
	return r.DB.WithContext(ctx).
		Where("fingerprint = ?", record.Fingerprint).
		FirstOrCreate(&record).Error
}

// FindValidToken returns the ledger row only if it exists for this kind, is
// not revoked and has not expired. Expiry is filtered here as well as by the
// periodic sweep, so a stale row never validates between sweeps.
func (r *GormRepo) FindValidToken(ctx context.Context, tokenStr, kind string) (*models.Token, error) {
	var record models.Token
	err := r.DB.WithContext(ctx).
		Where("fingerprint = ? AND kind = ? AND revoked = ? AND expires_at > ?",
			tokens.Sha256Hex(tokenStr), kind, false, time.Now().Unix()).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ConsumeToken deletes a valid ledger row in one conditional statement.
// RowsAffected == 0 means the token was absent, revoked, expired or already
// consumed by a concurrent caller, so exactly one of two racing rotations
// can win.
func (r *GormRepo) ConsumeToken(ctx context.Context, tokenStr, kind string) error {
	res := r.DB.WithContext(ctx).
		Where("fingerprint = ? AND kind = ? AND revoked = ? AND expires_at > ?",
			tokens.Sha256Hex(tokenStr), kind, false, time.Now().Unix()).
		Delete(&models.Token{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RevokeToken flags a single ledger row revoked (single-session logout).
func (r *GormRepo) RevokeToken(ctx context.Context, tokenStr, kind string) error {
	res := r.DB.WithContext(ctx).Model(&models.Token{}).
		Where("fingerprint = ? AND kind = ? AND revoked = ?", tokens.Sha256Hex(tokenStr), kind, false).
		Update("revoked", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RevokeAllForUser deletes every ledger row of the given kinds for a user.
// With no kinds it wipes all of them.
func (r *GormRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, kinds ...string) error {
	q := r.DB.WithContext(ctx).Where("user_id = ?", userID)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	return q.Delete(&models.Token{}).Error
}

// PurgeExpired removes rows past their natural expiry. Called by the sweeper,
// never on the request path.
func (r *GormRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("expires_at < ?", time.Now().Unix()).
		Delete(&models.Token{})
	return res.RowsAffected, res.Error
}
