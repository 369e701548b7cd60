package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/repository"
	"github.com/iliyamo/election-backend/internal/utils"
)

// AuthService logs operators in with a password.  Voters never use it.
type AuthService struct {
	store  repository.Store
	secret string
	ttl    time.Duration
}

func NewAuthService(store repository.Store, jwtSecret string, ttl time.Duration) *AuthService {
	return &AuthService{store: store, secret: jwtSecret, ttl: ttl}
}

// OperatorSession is returned by Login.
type OperatorSession struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      model.User `json:"-"`
}

var errBadCredentials = rejected(ErrUnauthorized, "invalid credentials")

// Login accepts a roll number or an email as identifier.
func (a *AuthService) Login(ctx context.Context, identifier, password string) (OperatorSession, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return OperatorSession{}, rejected(ErrInvalidInput, "identifier and password are required")
	}
	var (
		u   model.User
		err error
	)
	if strings.Contains(identifier, "@") {
		u, err = a.store.UserByEmail(ctx, identifier)
	} else {
		u, err = a.store.UserByNIM(ctx, identifier)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return OperatorSession{}, errBadCredentials
	}
	if err != nil {
		return OperatorSession{}, infra("load operator", err)
	}
	if !u.Role.IsOperator() || u.PasswordHash == nil || !utils.VerifyPassword(*u.PasswordHash, password) {
		return OperatorSession{}, errBadCredentials
	}
	tok, err := utils.NewSessionToken(a.secret, utils.Session{
		UserID: u.ID, NIM: u.NIM, Name: u.Name, Role: string(u.Role),
	}, a.ttl)
	if err != nil {
		return OperatorSession{}, infra("sign session", err)
	}
	return OperatorSession{Token: tok.Token, ExpiresAt: tok.Exp, User: u}, nil
}
