// Package servicehost implements the service-host integrations named in
// spec.md §4.7 (C9): third-party services authorized via a shared secret
// to resolve addresses, send messages, and read identity on a caller's
// behalf, plus their per-user/per-group settings blobs. Grounded on the
// teacher's deleted internal/attachment package for the general shape of
// an externally-facing resource the server both stores metadata for and
// calls out to.
package servicehost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"github.com/netsbox/control-plane/internal/auth"
)

var (
	ErrNotFound         = errors.New("servicehost: host not found")
	ErrSettingNotFound  = errors.New("servicehost: setting not found")
	ErrMFANotConfigured = errors.New("servicehost: mfa encryption key not configured")
	ErrMFAInvalidCode   = errors.New("servicehost: invalid totp code")
)

// OwnerKind discriminates whether a service-host setting belongs to a user
// or a group.
type OwnerKind string

const (
	OwnerUser  OwnerKind = "user"
	OwnerGroup OwnerKind = "group"
)

// Host is the row shape of the service_hosts collection. SecretHash is the
// argon2id hash of the shared secret the host presents on every call,
// reusing internal/auth's password hashing rather than a bespoke scheme —
// a shared secret is authenticated the same way a password is.
type Host struct {
	ID                 uuid.UUID
	URL                string
	Categories         []string
	SecretHash         string
	TOTPSecret         string
	RecoveryCodeHashes []string
	CreatedAt          time.Time
}

// Setting is one (host, owner) row of opaque per-host configuration, e.g.
// API keys a user has entered for a service the host integrates.
type Setting struct {
	HostID    uuid.UUID
	OwnerKind OwnerKind
	OwnerID   string
	Settings  json.RawMessage
	UpdatedAt time.Time
}

// Repository defines the data-access contract for service hosts and their
// settings.
type Repository interface {
	RegisterHost(ctx context.Context, url string, categories []string, secretHash string) (*Host, error)
	GetHost(ctx context.Context, id uuid.UUID) (*Host, error)
	ListHosts(ctx context.Context) ([]Host, error)
	RotateSecret(ctx context.Context, id uuid.UUID, newHash string) error
	DeleteHost(ctx context.Context, id uuid.UUID) error
	SetTOTPSecret(ctx context.Context, id uuid.UUID, encryptedSecret string) error
	SetRecoveryCodes(ctx context.Context, id uuid.UUID, hashes []string) error

	GetSetting(ctx context.Context, hostID uuid.UUID, kind OwnerKind, ownerID string) (*Setting, error)
	SetSetting(ctx context.Context, hostID uuid.UUID, kind OwnerKind, ownerID string, settings json.RawMessage) (*Setting, error)
	DeleteSetting(ctx context.Context, hostID uuid.UUID, kind OwnerKind, ownerID string) error
	ListSettingsByOwner(ctx context.Context, kind OwnerKind, ownerID string) ([]Setting, error)
}

// Manager authenticates service-host secrets and mediates settings access,
// layered on top of Repository the same way internal/project.Lifecycle
// layers behavior over internal/project.Repository. It hashes secrets with
// auth.PasswordParams, the same argon2id knobs internal/auth uses for user
// passwords — a service host's shared secret is authenticated the same way
// a user's password is, so it reuses the one parameter set rather than
// carrying its own.
type Manager struct {
	repo   Repository
	params auth.PasswordParams
	mfaKey string
}

// NewManager builds a Manager over repo, hashing new secrets with params.
func NewManager(repo Repository, params auth.PasswordParams) *Manager {
	return &Manager{repo: repo, params: params}
}

// EnableMFA turns on TOTP-gated secret rotation, keyed by hexKey (the
// AES-256-GCM key internal/auth.EncryptTOTPSecret/DecryptTOTPSecret expect).
// A Manager with no key set behaves exactly as before this feature existed:
// RotateSecretWithMFA falls back to an unguarded rotation for any host that
// has never enrolled, and EnrollMFA refuses to run at all.
func (m *Manager) EnableMFA(hexKey string) {
	m.mfaKey = hexKey
}

// Register hashes plaintextSecret and stores a new host.
func (m *Manager) Register(ctx context.Context, url string, categories []string, plaintextSecret string) (*Host, error) {
	hash, err := auth.HashPassword(plaintextSecret, m.params)
	if err != nil {
		return nil, err
	}
	return m.repo.RegisterHost(ctx, url, categories, hash)
}

// RotateSecret replaces a host's secret with a freshly hashed one.
func (m *Manager) RotateSecret(ctx context.Context, id uuid.UUID, plaintextSecret string) error {
	hash, err := auth.HashPassword(plaintextSecret, m.params)
	if err != nil {
		return err
	}
	return m.repo.RotateSecret(ctx, id, hash)
}

// EnrollMFA generates a fresh TOTP secret for hostID, encrypts it with the
// key EnableMFA was given, and persists it alongside a fresh batch of
// recovery codes. The plaintext secret (base32, suitable for an operator to
// paste into an authenticator app) and the plaintext recovery codes are
// returned once and never stored in that form — only their argon2id hashes
// are persisted, so an operator who loses their authenticator but saved the
// codes can still rotate a host's secret via RotateSecretWithMFA.
func (m *Manager) EnrollMFA(ctx context.Context, hostID uuid.UUID, issuer, accountName string) (string, []string, error) {
	if m.mfaKey == "" {
		return "", nil, ErrMFANotConfigured
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: issuer, AccountName: accountName})
	if err != nil {
		return "", nil, fmt.Errorf("generate totp secret: %w", err)
	}
	encrypted, err := auth.EncryptTOTPSecret(key.Secret(), m.mfaKey)
	if err != nil {
		return "", nil, fmt.Errorf("encrypt totp secret: %w", err)
	}
	if err := m.repo.SetTOTPSecret(ctx, hostID, encrypted); err != nil {
		return "", nil, err
	}

	codes := auth.GenerateRecoveryCodes()
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := auth.HashRecoveryCode(code, m.params)
		if err != nil {
			return "", nil, fmt.Errorf("hash recovery code: %w", err)
		}
		hashes[i] = hash
	}
	if err := m.repo.SetRecoveryCodes(ctx, hostID, hashes); err != nil {
		return "", nil, err
	}

	return key.Secret(), codes, nil
}

// RotateSecretWithMFA rotates hostID's shared secret, requiring a valid
// TOTP code first when the host has enrolled MFA. A host that never called
// EnrollMFA rotates exactly like RotateSecret — MFA is opt-in per host, not
// a blanket requirement, since spec.md §4.7 gives operators the choice of
// how tightly to guard each integration. An operator without their
// authenticator can present one of the recovery codes issued by EnrollMFA
// instead; a matching code is consumed (it cannot be reused) before the
// rotation proceeds.
func (m *Manager) RotateSecretWithMFA(ctx context.Context, hostID uuid.UUID, code, plaintextSecret string) error {
	host, err := m.repo.GetHost(ctx, hostID)
	if err != nil {
		return err
	}
	if host.TOTPSecret != "" {
		if m.mfaKey == "" {
			return ErrMFANotConfigured
		}
		secret, err := auth.DecryptTOTPSecret(host.TOTPSecret, m.mfaKey)
		if err != nil {
			return fmt.Errorf("decrypt totp secret: %w", err)
		}
		if !totp.Validate(code, secret) {
			if !m.consumeRecoveryCode(ctx, host, code) {
				return ErrMFAInvalidCode
			}
		}
	}
	return m.RotateSecret(ctx, hostID, plaintextSecret)
}

// consumeRecoveryCode reports whether code matches one of host's unused
// recovery-code hashes, removing it from the stored set on a match so it
// cannot authenticate a second rotation.
func (m *Manager) consumeRecoveryCode(ctx context.Context, host *Host, code string) bool {
	for i, hash := range host.RecoveryCodeHashes {
		ok, err := auth.VerifyRecoveryCode(code, hash)
		if err != nil || !ok {
			continue
		}
		remaining := append(append([]string{}, host.RecoveryCodeHashes[:i]...), host.RecoveryCodeHashes[i+1:]...)
		if err := m.repo.SetRecoveryCodes(ctx, host.ID, remaining); err != nil {
			return false
		}
		return true
	}
	return false
}

// Authenticate reports whether presentedSecret matches hostID's stored
// hash. The caller feeds this result into witness.Minter.MintAppLevel
// rather than this package minting a witness itself, keeping witness
// construction confined to internal/witness.
func (m *Manager) Authenticate(ctx context.Context, hostID uuid.UUID, presentedSecret string) (bool, error) {
	host, err := m.repo.GetHost(ctx, hostID)
	if err != nil {
		return false, err
	}
	return auth.VerifyPassword(presentedSecret, host.SecretHash)
}

// ServiceHostSecretHash implements witness.ServiceHostLookup.
func (m *Manager) ServiceHostSecretHash(ctx context.Context, hostID uuid.UUID) (string, error) {
	host, err := m.repo.GetHost(ctx, hostID)
	if err != nil {
		return "", err
	}
	return host.SecretHash, nil
}
