package domain

import "time"

// Account is the persisted credential record. Verification and reset secrets
// are kept as SHA-256 digests; the raw values only leave the process inside
// notification links.
type Account struct {
	ID                     string     `gorm:"primaryKey;size:36" json:"id"`
	Name                   string     `gorm:"size:255;not null" json:"name"`
	Email                  string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash           string     `gorm:"size:1024;not null" json:"-"`
	Verified               bool       `gorm:"not null;default:false" json:"verified"`
	VerificationSecretHash *string    `gorm:"size:64;index:idx_accounts_verification_secret" json:"-"`
	ResetSecretHash        *string    `gorm:"size:64;index:idx_accounts_reset_secret" json:"-"`
	ResetExpiresAt         *time.Time `json:"-"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// MarkVerified flips the account to verified and consumes the verification secret.
func (a *Account) MarkVerified(now time.Time) {
	a.Verified = true
	a.VerificationSecretHash = nil
	a.UpdatedAt = now
}

// StartPasswordReset stores a fresh reset digest, replacing any earlier one.
func (a *Account) StartPasswordReset(digest string, expiresAt, now time.Time) {
	a.ResetSecretHash = &digest
	a.ResetExpiresAt = &expiresAt
	a.UpdatedAt = now
}

// CompletePasswordReset swaps in the new password hash and clears the reset pair.
func (a *Account) CompletePasswordReset(passwordHash string, now time.Time) {
	a.PasswordHash = passwordHash
	a.ResetSecretHash = nil
	a.ResetExpiresAt = nil
	a.UpdatedAt = now
}

// ResetSecretValid reports whether a pending reset exists and is still strictly
// before its expiry.
func (a *Account) ResetSecretValid(now time.Time) bool {
	if a.ResetSecretHash == nil || a.ResetExpiresAt == nil {
		return false
	}
	return now.Before(*a.ResetExpiresAt)
}
