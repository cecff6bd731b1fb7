package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"time"

	"totpgate/internal/database"
	"totpgate/internal/models"
	"totpgate/internal/token"
	"totpgate/internal/util"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	minPasswordLength = 8
	qrCodeSize        = 200

	defaultChallengeTTL = 5 * time.Minute
	defaultMaxAttempts  = 5
)

// AccountStore looks accounts up by their login identifier.
type AccountStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
}

// ChallengeStore holds pending second-factor challenges. ConsumeChallenge must
// let exactly one caller win per challenge; ClaimCode exactly one per account and step.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, c *models.Challenge) error
	FindChallenge(ctx context.Context, id string) (*models.Challenge, error)
	RecordFailure(ctx context.Context, id string, maxAttempts int, now time.Time) (bool, error)
	ConsumeChallenge(ctx context.Context, id string, now time.Time) error
	ClaimCode(ctx context.Context, accountID primitive.ObjectID, step int64, expiresAt time.Time) error
}

// PasswordHasher produces and checks salted password hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(password, encodedHash string) (bool, error)
}

// OTPVerifier generates TOTP secrets and matches codes against them.
type OTPVerifier interface {
	Generate(accountName string) (*otp.Key, error)
	Match(secret, code string, at time.Time) (int64, bool, error)
	ValidUntil(step int64) time.Time
	Digits() int
}

// TokenIssuer signs session tokens and verifies them on later requests.
type TokenIssuer interface {
	Issue(subject, email string) (string, time.Time, error)
	Verify(tokenString string) (*token.Claims, error)
}

// Options tunes the login flow. Zero values fall back to defaults.
type Options struct {
	ChallengeTTL time.Duration
	MaxAttempts  int
	Clock        func() time.Time
}

// LoginResult is returned when the password matched and a code is now required.
type LoginResult struct {
	ChallengeRef string
	ExpiresAt    time.Time
}

// Session is the outcome of a fully verified login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	AccountID string
	Email     string
}

// Enrollment carries the TOTP secret of a new account. It is the only time the
// secret leaves the service.
type Enrollment struct {
	AccountID string
	Email     string
	Secret    string
	URL       string
	QRCodePNG []byte
}

// Service runs the two-step login: password first, then a TOTP code bound to
// the challenge the password step produced.
type Service struct {
	accounts   AccountStore
	challenges ChallengeStore
	hasher     PasswordHasher
	otp        OTPVerifier
	tokens     TokenIssuer
	log        *zap.Logger

	challengeTTL time.Duration
	maxAttempts  int
	now          func() time.Time

	// dummyHash is compared against when the identifier is unknown, so that
	// unknown and known identifiers cost the same.
	dummyHash string
}

// NewService wires the login flow from its collaborators.
func NewService(accounts AccountStore, challenges ChallengeStore, hasher PasswordHasher, verifier OTPVerifier, tokens TokenIssuer, opts Options, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		accounts:     accounts,
		challenges:   challenges,
		hasher:       hasher,
		otp:          verifier,
		tokens:       tokens,
		log:          log,
		challengeTTL: opts.ChallengeTTL,
		maxAttempts:  opts.MaxAttempts,
		now:          opts.Clock,
	}
	if s.challengeTTL <= 0 {
		s.challengeTTL = defaultChallengeTTL
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.now == nil {
		s.now = time.Now
	}

	filler := make([]byte, 32)
	if _, err := rand.Read(filler); err != nil {
		return nil, fmt.Errorf("failed to generate dummy password: %w", err)
	}
	dummy, err := hasher.Hash(base64.RawStdEncoding.EncodeToString(filler))
	if err != nil {
		return nil, fmt.Errorf("failed to hash dummy password: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// Enroll creates an account with a password and a fresh TOTP secret.
func (s *Service) Enroll(ctx context.Context, email, password string) (*Enrollment, error) {
	email = util.NormalizeIdentifier(email)
	if err := util.ValidateVar(email, "required,email,max=254"); err != nil {
		return nil, ErrInvalidEmail
	}
	if err := util.ValidateVar(password, fmt.Sprintf("required,min=%d", minPasswordLength)); err != nil {
		return nil, ErrWeakPassword
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}
	key, err := s.otp.Generate(email)
	if err != nil {
		return nil, fmt.Errorf("error generating OTP secret: %w", err)
	}
	qr, err := qrCodePNG(key)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Email:        email,
		PasswordHash: hash,
		OTPSecret:    key.Secret(),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("error creating account: %w", err)
	}
	s.log.Info("account enrolled", zap.String("account_id", account.ID.Hex()))
	return &Enrollment{
		AccountID: account.ID.Hex(),
		Email:     email,
		Secret:    key.Secret(),
		URL:       key.URL(),
		QRCodePNG: qr,
	}, nil
}

// Login checks identifier and password and, on success, opens a challenge
// that must be answered with a TOTP code. No session token is issued here.
// Unknown identifiers and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	identifier = util.NormalizeIdentifier(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := s.accounts.FindByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("error retrieving account: %w", err)
		}
		_, _ = s.hasher.Compare(password, s.dummyHash)
		return nil, s.reject(ErrInvalidCredentials, "unknown identifier", zap.String("identifier", identifier))
	}

	ok, err := s.hasher.Compare(password, account.PasswordHash)
	if err != nil {
		s.log.Error("stored password hash unreadable", zap.String("account_id", account.ID.Hex()), zap.Error(err))
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, s.reject(ErrInvalidCredentials, "password mismatch", zap.String("account_id", account.ID.Hex()))
	}

	now := s.now().UTC()
	challenge := &models.Challenge{
		ID:         uuid.NewString(),
		AccountID:  account.ID,
		Identifier: account.Email,
		ExpiresAt:  now.Add(s.challengeTTL),
		CreatedAt:  now,
	}
	if err := s.challenges.CreateChallenge(ctx, challenge); err != nil {
		return nil, fmt.Errorf("error creating challenge: %w", err)
	}
	s.log.Info("password accepted, challenge issued",
		zap.String("account_id", account.ID.Hex()),
		zap.String("challenge", challenge.ID),
		zap.Time("expires_at", challenge.ExpiresAt),
	)
	return &LoginResult{ChallengeRef: challenge.ID, ExpiresAt: challenge.ExpiresAt}, nil
}

// Verify answers a challenge with a TOTP code. A match consumes the challenge
// and returns a session token; a challenge is never consumed twice and a
// TOTP step is never accepted twice for the same account.
func (s *Service) Verify(ctx context.Context, challengeRef, code string) (*Session, error) {
	now := s.now().UTC()

	challenge, err := s.challenges.FindChallenge(ctx, challengeRef)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, s.reject(ErrChallengeExpired, "unknown challenge", zap.String("challenge", challengeRef))
		}
		return nil, fmt.Errorf("error retrieving challenge: %w", err)
	}
	fields := []zap.Field{zap.String("challenge", challenge.ID), zap.String("account_id", challenge.AccountID.Hex())}
	if challenge.Consumed {
		return nil, s.reject(ErrChallengeAlreadyConsumed, "challenge consumed", fields...)
	}
	if challenge.Expired(now) {
		return nil, s.reject(ErrChallengeExpired, "challenge past deadline", fields...)
	}

	account, err := s.accounts.FindByIdentifier(ctx, challenge.Identifier)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, s.reject(ErrInvalidCredentials, "account removed", fields...)
		}
		return nil, fmt.Errorf("error retrieving account: %w", err)
	}
	if account.ID != challenge.AccountID {
		return nil, s.reject(ErrInvalidCredentials, "account replaced", fields...)
	}

	var (
		step    int64
		matched bool
	)
	if util.ValidateVar(code, fmt.Sprintf("required,number,len=%d", s.otp.Digits())) == nil {
		step, matched, err = s.otp.Match(account.OTPSecret, code, now)
		if err != nil {
			return nil, fmt.Errorf("error validating OTP: %w", err)
		}
	}
	if !matched {
		burned, err := s.challenges.RecordFailure(ctx, challenge.ID, s.maxAttempts, now)
		if err != nil {
			return nil, fmt.Errorf("error recording failed attempt: %w", err)
		}
		return nil, s.reject(ErrInvalidOTP, "code mismatch", append(fields, zap.Bool("burned", burned))...)
	}

	if err := s.challenges.ConsumeChallenge(ctx, challenge.ID, now); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, s.reject(ErrChallengeAlreadyConsumed, "lost consume race", fields...)
		}
		return nil, fmt.Errorf("error consuming challenge: %w", err)
	}
	if err := s.challenges.ClaimCode(ctx, account.ID, step, s.otp.ValidUntil(step)); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, s.reject(ErrChallengeAlreadyConsumed, "code replayed", append(fields, zap.Int64("step", step))...)
		}
		return nil, fmt.Errorf("error recording used code: %w", err)
	}

	signed, expiresAt, err := s.tokens.Issue(account.ID.Hex(), account.Email)
	if err != nil {
		return nil, fmt.Errorf("error issuing session token: %w", err)
	}
	s.log.Info("second factor verified, session issued", append(fields, zap.Time("expires_at", expiresAt))...)
	return &Session{
		Token:     signed,
		ExpiresAt: expiresAt,
		AccountID: account.ID.Hex(),
		Email:     account.Email,
	}, nil
}

// Authenticate resolves a bearer token issued by Verify.
func (s *Service) Authenticate(tokenString string) (*token.Claims, error) {
	claims, err := s.tokens.Verify(tokenString)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) reject(err error, reason string, fields ...zap.Field) error {
	s.log.Info("authentication rejected", append(fields, zap.String("reason", reason), zap.Error(err))...)
	return err
}

func qrCodePNG(key *otp.Key) ([]byte, error) {
	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("error rendering QR code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("error encoding QR code: %w", err)
	}
	return buf.Bytes(), nil
}
