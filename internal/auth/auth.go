// Package auth handles registration, login, JWT session tokens, and optional
// TOTP second factors for community accounts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"beuhouse-backend/internal/model"
	"beuhouse-backend/internal/store/sqlite"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserExists         = errors.New("auth: username or email already taken")
	ErrTOTPRequired       = errors.New("auth: totp code required")
	ErrTOTPInvalid        = errors.New("auth: totp code invalid")
	ErrInvalidToken       = errors.New("auth: invalid token")
)

// ValidationError reports a malformed registration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Store is the slice of the sqlite store the service needs.
type Store interface {
	CreateUser(ctx context.Context, u *model.User) (int64, error)
	UserByUsername(ctx context.Context, username string) (*model.User, error)
	UserByID(ctx context.Context, id int64) (*model.User, error)
	SetTOTPSecret(ctx context.Context, userID int64, secret string) error
}

type Config struct {
	JWTSecret []byte
	TokenTTL  time.Duration // default: 24h
	Issuer    string        // default: "beuhouse"
}

type Service struct {
	store  Store
	secret []byte
	ttl    time.Duration
	issuer string
}

func NewService(store Store, cfg Config) (*Service, error) {
	if len(cfg.JWTSecret) == 0 {
		return nil, errors.New("auth: empty JWT secret")
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "beuhouse"
	}
	return &Service{store: store, secret: cfg.JWTSecret, ttl: cfg.TokenTTL, issuer: cfg.Issuer}, nil
}

// Register creates an account and returns the stored user.
func (s *Service) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if len(username) < 3 || len(username) > 32 {
		return nil, &ValidationError{Field: "username", Reason: "must be 3-32 characters"}
	}
	if !strings.Contains(email, "@") {
		return nil, &ValidationError{Field: "email", Reason: "not an email address"}
	}
	if len(password) < 8 {
		return nil, &ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{Username: username, Email: email, PasswordHash: string(hash)}
	if _, err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, sqlite.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return u, nil
}

// Login verifies the password (and TOTP code when enrolled) and returns a
// signed session token.
func (s *Service) Login(ctx context.Context, username, password, totpCode string) (string, *model.User, error) {
	u, err := s.store.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			// Burn a comparison anyway so unknown users cost the same.
			bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000uG7Zr4w7Zl6S0i7p1bHRTrYyS/y7qW."), []byte(password))
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	if u.TOTPEnabled() {
		if totpCode == "" {
			return "", nil, ErrTOTPRequired
		}
		if !totp.Validate(totpCode, u.TOTPSecret) {
			return "", nil, ErrTOTPInvalid
		}
	}

	token, err := s.issueToken(u.ID)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

func (s *Service) issueToken(userID int64) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseToken validates a session token and returns the user id.
func (s *Service) ParseToken(tokenString string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}
	claims := token.Claims.(*jwt.RegisteredClaims)
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// BeginTOTP creates a new 2FA secret for the user. Nothing is persisted; the
// secret becomes active only after ConfirmTOTP proves the user enrolled it.
func (s *Service) BeginTOTP(ctx context.Context, userID int64) (secret, otpauthURL string, err error) {
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return "", "", err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: u.Username,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// ConfirmTOTP verifies a code against the pending secret and persists it.
func (s *Service) ConfirmTOTP(ctx context.Context, userID int64, secret, code string) error {
	if !totp.Validate(code, secret) {
		return ErrTOTPInvalid
	}
	return s.store.SetTOTPSecret(ctx, userID, secret)
}

// DisableTOTP turns 2FA off after a final valid code.
func (s *Service) DisableTOTP(ctx context.Context, userID int64, code string) error {
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.TOTPEnabled() {
		return nil
	}
	if !totp.Validate(code, u.TOTPSecret) {
		return ErrTOTPInvalid
	}
	return s.store.SetTOTPSecret(ctx, userID, "")
}
