// Package auth handles user registration, credential checks, and the
// signed tokens the HTTP layer authenticates with.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/0neda/trackify/internal/apperr"
	"github.com/0neda/trackify/internal/store"
)

const defaultTokenTTL = 24 * time.Hour

// Claims is the JWT payload. Subject carries the user id as well so
// standard tooling can read it.
type Claims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// Options configures a Service. Secret is required; TokenTTL and
// BcryptCost fall back to sane defaults when zero.
type Options struct {
	Secret     []byte
	TokenTTL   time.Duration
	BcryptCost int
}

// Service issues and validates tokens and manages user credentials.
type Service struct {
	store  store.Store
	secret []byte
	ttl    time.Duration
	cost   int
}

func New(st store.Store, opts Options) (*Service, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("auth: signing secret required")
	}
	ttl := opts.TokenTTL
	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{store: st, secret: opts.Secret, ttl: ttl, cost: cost}, nil
}

// Register creates the user and returns it with a freshly issued token,
// so a new account is logged in immediately.
func (s *Service) Register(ctx context.Context, username, password string, email *string) (store.User, string, error) {
	if username == "" {
		return store.User{}, "", apperr.Validationf("username required")
	}
	if len(password) < 8 {
		return store.User{}, "", apperr.Validationf("password must be at least 8 characters")
	}
	if existing, err := s.store.GetUserByUsername(ctx, username); err != nil {
		return store.User{}, "", err
	} else if existing != nil {
		return store.User{}, "", apperr.Conflictf("username %q already registered", username)
	}
	if email != nil && *email != "" {
		if existing, err := s.store.GetUserByEmail(ctx, *email); err != nil {
			return store.User{}, "", err
		} else if existing != nil {
			return store.User{}, "", apperr.Conflictf("email %q already registered", *email)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return store.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	// The store's unique constraints still back this up under races.
	u, err := s.store.CreateUser(ctx, username, string(hash), email)
	if err != nil {
		return store.User{}, "", err
	}
	token, err := s.issueToken(u)
	if err != nil {
		return store.User{}, "", err
	}
	return u, token, nil
}

// Login checks the credentials and issues a token. Unknown usernames and
// wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, username, password string) (store.User, string, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return store.User{}, "", err
	}
	if u == nil {
		return store.User{}, "", apperr.Unauthorizedf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return store.User{}, "", apperr.Unauthorizedf("invalid credentials")
	}
	token, err := s.issueToken(*u)
	if err != nil {
		return store.User{}, "", err
	}
	return *u, token, nil
}

func (s *Service) issueToken(u store.User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID: u.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token string and returns the user
// it belongs to.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*store.User, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperr.Unauthorizedf("invalid token")
	}
	u, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.Unauthorizedf("token user no longer exists")
	}
	return u, nil
}
