// Package user implements the User document collection (spec.md §3): unique
// case-folded usernames, canonical emails, argon2id password hashes, a
// three-tier role, optional group membership, and linked OAuth-style
// accounts. Banned users are copied into a parallel banned_accounts table so
// recreation under the same username or email is refused (tombstoning).
package user

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role is the coarse-grained privilege level carried on every User. It feeds
// directly into the IsAdmin witness (internal/witness).
type Role string

const (
	RoleUser      Role = "User"
	RoleModerator Role = "Moderator"
	RoleAdmin     Role = "Admin"
)

// LinkedAccount identifies an external identity linked to a User, e.g. a
// Snap!/NetsBlox single-sign-on strategy.
type LinkedAccount struct {
	Strategy string `json:"strategy"`
	ID       string `json:"id"`
}

// User is the row shape of the users table. MFASecretEncrypted holds an
// AES-256-GCM-encrypted TOTP secret (see internal/auth.EncryptTOTPSecret)
// once the account has completed MFA enrollment; empty means MFA is off.
type User struct {
	ID                 uuid.UUID
	Username           string
	Email              string
	PasswordHash       string
	Role               Role
	GroupID            *uuid.UUID
	LinkedAccounts     []LinkedAccount
	Banned             bool
	MFASecretEncrypted string
	EmailVerified      bool
	CreatedAt          time.Time
}

// HasMFAEnabled reports whether u must complete a TOTP challenge after
// password verification to finish logging in.
func (u *User) HasMFAEnabled() bool { return u.MFASecretEncrypted != "" }

// IsAdmin reports whether u has the Admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// IsModerator reports whether u has at least Moderator privilege.
func (u *User) IsModerator() bool { return u.Role == RoleModerator || u.Role == RoleAdmin }

// Sentinel errors for the user package.
var (
	ErrNotFound          = errors.New("user not found")
	ErrUsernameTaken     = errors.New("username already taken")
	ErrEmailTaken        = errors.New("email already taken")
	ErrAccountTombstoned = errors.New("username or email was previously used by a banned account")
	ErrLinkedAccountUsed = errors.New("linked account is already associated with another user")
)

// CreateParams groups the inputs for registering a new user.
type CreateParams struct {
	Username     string
	Email        string
	PasswordHash string
}
