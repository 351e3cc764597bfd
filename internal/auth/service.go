package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/user"
)

// DisposableEmailChecker reports whether an email domain is disallowed,
// implemented by internal/security.
type DisposableEmailChecker interface {
	IsDisposable(domain string) bool
}

// EmailSender delivers the transactional account emails Service needs to
// mail out-of-band tokens, implemented by internal/email.Client. A Service
// built with a nil EmailSender still mints and stores these tokens (so the
// API layer can, say, log them in development) but never attempts delivery.
type EmailSender interface {
	SendVerification(to, token, serverURL, serverName string) error
	SendPasswordReset(to, token, serverURL, serverName string) error
}

// Service implements registration, login, password reset, and the
// account-level TOTP MFA challenge against a user.Repository, grounded on
// the teacher's deleted auth/service.go shape (validate → hash/verify →
// repository call → token mint). Login MFA mirrors internal/servicehost's
// enrollment flow (EncryptTOTPSecret/pquerna/otp) but layers it behind a
// two-step confirm: BeginMFAEnrollment stashes the freshly generated secret
// in Valkey (mfa_pending.go) so ConfirmMFAEnrollment can refuse to persist
// it to the account until the owner proves they copied it into an
// authenticator app. A Service built with an empty mfaKey or nil rdb
// behaves exactly as before MFA existed: Login never returns an MFA ticket
// and the enrollment/verify methods fail with ErrMFANotConfigured.
type Service struct {
	users            user.Repository
	disposable       DisposableEmailChecker
	params           PasswordParams
	sessionTTL       time.Duration
	secret           string
	issuer           string
	serverURL        string
	serverName       string
	rdb              *redis.Client
	mfaKey           string
	ticketTTL        time.Duration
	mailer           EmailSender
	verifyTTL        time.Duration
	passwordResetTTL time.Duration
	log              zerolog.Logger
}

// NewService builds a Service. rdb, mfaKey, and ticketTTL gate account MFA:
// pass a nil rdb or an empty mfaKey to run without that feature. mailer may
// be nil, in which case verification and password-reset tokens are minted
// and stored but never emailed — useful for tests and for deployments that
// haven't configured SMTP yet.
func NewService(users user.Repository, disposable DisposableEmailChecker, params PasswordParams, secret, issuer string, sessionTTL time.Duration, rdb *redis.Client, mfaKey string, ticketTTL time.Duration, mailer EmailSender, serverName string, verifyTTL, passwordResetTTL time.Duration, log zerolog.Logger) *Service {
	return &Service{
		users:            users,
		disposable:       disposable,
		params:           params,
		sessionTTL:       sessionTTL,
		secret:           secret,
		issuer:           issuer,
		serverURL:        issuer,
		serverName:       serverName,
		rdb:              rdb,
		mfaKey:           mfaKey,
		ticketTTL:        ticketTTL,
		mailer:           mailer,
		verifyTTL:        verifyTTL,
		passwordResetTTL: passwordResetTTL,
		log:              log.With().Str("component", "auth").Logger(),
	}
}

// mfaConfigured reports whether this Service can run the account MFA flow.
func (s *Service) mfaConfigured() bool {
	return s.rdb != nil && s.mfaKey != ""
}

// RegisterParams groups the inputs to Register.
type RegisterParams struct {
	Username string
	Email    string
	Password string
}

// Register validates, hashes, and persists a new user, returning a signed
// session token alongside the created account.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*user.User, string, error) {
	if err := ValidateUsername(p.Username); err != nil {
		return nil, "", err
	}
	if err := ValidatePassword(p.Password); err != nil {
		return nil, "", err
	}
	normalizedEmail, domain, err := ValidateEmail(p.Email)
	if err != nil {
		return nil, "", err
	}
	if s.disposable != nil && s.disposable.IsDisposable(domain) {
		return nil, "", ErrDisposableEmail
	}

	hash, err := HashPassword(p.Password, s.params)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	created, err := s.users.Create(ctx, user.CreateParams{
		Username:     p.Username,
		Email:        normalizedEmail,
		PasswordHash: hash,
	})
	if err != nil {
		switch err {
		case user.ErrUsernameTaken:
			return nil, "", ErrEmailAlreadyTaken
		case user.ErrAccountTombstoned:
			return nil, "", ErrAccountTombstoned
		default:
			return nil, "", err
		}
	}

	token, err := NewAccessToken(created, s.secret, s.sessionTTL, s.issuer)
	if err != nil {
		return nil, "", fmt.Errorf("mint session token: %w", err)
	}

	s.sendVerificationEmail(ctx, created)

	return created, token, nil
}

// sendVerificationEmail mails a fresh verification link to a newly registered user. Delivery failures are logged
// and otherwise swallowed: registration has already succeeded, and the account can request another link later.
func (s *Service) sendVerificationEmail(ctx context.Context, u *user.User) {
	if s.rdb == nil {
		return
	}
	ticket, err := CreateEmailVerificationTicket(ctx, s.rdb, u.ID, s.verifyTTL)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", u.ID.String()).Msg("failed to create email verification ticket")
		return
	}
	if s.mailer == nil {
		return
	}
	if err := s.mailer.SendVerification(u.Email, ticket, s.serverURL, s.serverName); err != nil {
		s.log.Warn().Err(err).Str("user_id", u.ID.String()).Msg("failed to send verification email")
	}
}

// VerifyEmail redeems an email-verification token minted by Register and marks the owning account's email verified.
func (s *Service) VerifyEmail(ctx context.Context, ticket string) error {
	if s.rdb == nil {
		return ErrMFANotConfigured
	}
	userID, err := ConsumeEmailVerificationTicket(ctx, s.rdb, ticket)
	if err != nil {
		return err
	}
	return s.users.VerifyEmail(ctx, userID)
}

// RequestPasswordReset mails a one-time password reset link to the account registered under email, if one exists.
// It never reports whether the address is registered, to avoid leaking account existence to an unauthenticated
// caller.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	if s.rdb == nil {
		return ErrMFANotConfigured
	}
	normalizedEmail, _, err := ValidateEmail(email)
	if err != nil {
		return nil
	}
	u, err := s.users.GetByEmail(ctx, normalizedEmail)
	if err != nil {
		if err == user.ErrNotFound {
			return nil
		}
		return err
	}

	ticket, err := CreatePasswordResetTicket(ctx, s.rdb, u.ID, s.passwordResetTTL)
	if err != nil {
		return fmt.Errorf("create password reset ticket: %w", err)
	}
	if s.mailer == nil {
		return nil
	}
	if err := s.mailer.SendPasswordReset(u.Email, ticket, s.serverURL, s.serverName); err != nil {
		s.log.Warn().Err(err).Str("user_id", u.ID.String()).Msg("failed to send password reset email")
	}
	return nil
}

// ResetPasswordWithToken redeems a password-reset token RequestPasswordReset issued and sets newPassword on the
// owning account. The token is single-use regardless of outcome.
func (s *Service) ResetPasswordWithToken(ctx context.Context, ticket, newPassword string) error {
	if s.rdb == nil {
		return ErrMFANotConfigured
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	userID, err := ConsumePasswordResetTicket(ctx, s.rdb, ticket)
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword, s.params)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.users.UpdatePasswordHash(ctx, userID, hash)
}

// Login verifies credentials and returns a fresh session token. The stored
// hash is transparently upgraded if its argon2id parameters are stale. When
// the account has MFA enrolled, Login withholds the session token and
// instead returns a single-use mfaTicket for VerifyMFALogin to redeem once
// the caller supplies a valid TOTP code; token is empty in that case.
func (s *Service) Login(ctx context.Context, email, password string) (u *user.User, token string, mfaTicket string, err error) {
	normalizedEmail, _, err := ValidateEmail(email)
	if err != nil {
		return nil, "", "", ErrInvalidCredentials
	}

	u, err = s.users.GetByEmail(ctx, normalizedEmail)
	if err != nil {
		if err == user.ErrNotFound {
			return nil, "", "", ErrInvalidCredentials
		}
		return nil, "", "", err
	}
	if u.Banned {
		return nil, "", "", ErrBanned
	}

	match, err := VerifyPassword(password, u.PasswordHash)
	if err != nil {
		return nil, "", "", fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return nil, "", "", ErrInvalidCredentials
	}

	if NeedsRehash(u.PasswordHash, s.params) {
		if newHash, err := HashPassword(password, s.params); err == nil {
			if err := s.users.UpdatePasswordHash(ctx, u.ID, newHash); err != nil {
				s.log.Warn().Err(err).Str("user_id", u.ID.String()).Msg("failed to persist rehashed password")
			}
		}
	}

	if u.HasMFAEnabled() && s.mfaConfigured() {
		ticket, err := CreateMFATicket(ctx, s.rdb, u.ID, s.ticketTTL)
		if err != nil {
			return nil, "", "", fmt.Errorf("create mfa ticket: %w", err)
		}
		return u, "", ticket, nil
	}

	token, err = NewAccessToken(u, s.secret, s.sessionTTL, s.issuer)
	if err != nil {
		return nil, "", "", fmt.Errorf("mint session token: %w", err)
	}
	return u, token, "", nil
}

// VerifyMFALogin redeems the mfaTicket Login issued, validates code against
// the account's enrolled TOTP secret, and mints the session token Login
// withheld. The ticket is single-use regardless of outcome.
func (s *Service) VerifyMFALogin(ctx context.Context, ticket, code string) (*user.User, string, error) {
	if !s.mfaConfigured() {
		return nil, "", ErrMFANotConfigured
	}
	userID, err := ConsumeMFATicket(ctx, s.rdb, ticket)
	if err != nil {
		return nil, "", err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if !u.HasMFAEnabled() {
		return nil, "", ErrMFANotEnabled
	}
	secret, err := DecryptTOTPSecret(u.MFASecretEncrypted, s.mfaKey)
	if err != nil {
		return nil, "", fmt.Errorf("decrypt mfa secret: %w", err)
	}
	if !totp.Validate(code, secret) {
		return nil, "", ErrInvalidMFACode
	}

	token, err := NewAccessToken(u, s.secret, s.sessionTTL, s.issuer)
	if err != nil {
		return nil, "", fmt.Errorf("mint session token: %w", err)
	}
	return u, token, nil
}

// BeginMFAEnrollment generates a fresh TOTP secret for userID, encrypts it,
// and stashes it in Valkey pending confirmation. The plaintext secret
// (base32, for the caller to render as a QR code or manual-entry string) is
// returned once and never stored in that form.
func (s *Service) BeginMFAEnrollment(ctx context.Context, userID uuid.UUID, accountName string) (string, error) {
	if !s.mfaConfigured() {
		return "", ErrMFANotConfigured
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.HasMFAEnabled() {
		return "", ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{Issuer: s.issuer, AccountName: accountName})
	if err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	encrypted, err := EncryptTOTPSecret(key.Secret(), s.mfaKey)
	if err != nil {
		return "", fmt.Errorf("encrypt totp secret: %w", err)
	}
	if err := StorePendingMFASecret(ctx, s.rdb, userID, encrypted); err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// ConfirmMFAEnrollment validates code against the pending secret
// BeginMFAEnrollment stored and, on success, persists it to the account,
// completing enrollment. The pending secret is consumed exactly once,
// whether or not code validates.
func (s *Service) ConfirmMFAEnrollment(ctx context.Context, userID uuid.UUID, code string) error {
	if !s.mfaConfigured() {
		return ErrMFANotConfigured
	}
	encrypted, err := ConsumePendingMFASecret(ctx, s.rdb, userID)
	if err != nil {
		return err
	}
	secret, err := DecryptTOTPSecret(encrypted, s.mfaKey)
	if err != nil {
		return fmt.Errorf("decrypt pending mfa secret: %w", err)
	}
	if !totp.Validate(code, secret) {
		return ErrInvalidMFACode
	}
	return s.users.SetMFASecret(ctx, userID, encrypted)
}

// DisableMFA turns off the account MFA challenge for userID.
func (s *Service) DisableMFA(ctx context.Context, userID uuid.UUID) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.HasMFAEnabled() {
		return ErrMFANotEnabled
	}
	return s.users.ClearMFASecret(ctx, userID)
}

// ResetPassword replaces the stored password hash for an already-authenticated account. This is the self-service
// "change my password" path: the caller has a valid session and a witness authorizing edits to userID. It is
// distinct from RequestPasswordReset/ResetPasswordWithToken, which authorize the change with a mailed one-time
// token instead of a session, for the case where the caller can't log in at all.
func (s *Service) ResetPassword(ctx context.Context, userID uuid.UUID, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword, s.params)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.users.UpdatePasswordHash(ctx, userID, hash)
}
