package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/repository"
	"github.com/iliyamo/election-backend/internal/utils"
)

// UserAdminService maintains the voter register and staff roles.
type UserAdminService struct {
	store      repository.Store
	cache      Invalidator
	bcryptCost int
	log        *slog.Logger
	now        func() time.Time
}

func NewUserAdminService(store repository.Store, cache Invalidator, bcryptCost int, log *slog.Logger) *UserAdminService {
	if log == nil {
		log = slog.Default()
	}
	return &UserAdminService{store: store, cache: cache, bcryptCost: bcryptCost, log: log, now: time.Now}
}

// SetRole assigns role to the user.  An operator role needs a password,
// either one given here or one already stored.
func (s *UserAdminService) SetRole(ctx context.Context, userID uint64, role model.Role, password string) (model.User, error) {
	if !role.Valid() {
		return model.User{}, rejected(ErrInvalidInput, "invalid role")
	}
	u, err := s.store.UserByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, rejected(ErrNotFound, "user not found")
	}
	if err != nil {
		return model.User{}, infra("load user", err)
	}

	var hash *string
	if password != "" {
		h, err := utils.HashPassword(password, s.bcryptCost)
		if errors.Is(err, utils.ErrWeakPassword) {
			return model.User{}, rejected(ErrInvalidInput, "%s", err.Error())
		}
		if err != nil {
			return model.User{}, infra("hash password", err)
		}
		hash = &h
	} else if role.IsOperator() && u.PasswordHash == nil {
		return model.User{}, rejected(ErrInvalidInput, "a password is required for operator roles")
	}

	if err := s.store.SetUserRole(ctx, userID, role, hash); err != nil {
		return model.User{}, infra("set role", err)
	}
	u.Role = role
	if hash != nil {
		u.PasswordHash = hash
	}
	return u, nil
}

// VoterInput is a single register entry typed in by staff.
type VoterInput struct {
	NIM        string
	Name       string
	Email      string
	Angkatan   string
	AccessType model.Channel
}

// VoterPage is one page of SearchVoters.
type VoterPage struct {
	Data       []model.User
	Total      int
	Page       int
	TotalPages int
}

const (
	defaultVoterPage = 50
	maxVoterPage     = 500
)

// CreateVoter adds one voter.  A roll number held by a soft-deleted voter
// is still taken; restore that voter instead.
func (s *UserAdminService) CreateVoter(ctx context.Context, in VoterInput) (model.User, error) {
	u := model.User{
		NIM:        strings.TrimSpace(in.NIM),
		Name:       strings.TrimSpace(in.Name),
		Role:       model.RoleVoter,
		AccessType: in.AccessType,
	}
	if u.NIM == "" || u.Name == "" {
		return model.User{}, rejected(ErrInvalidInput, "nim and name are required")
	}
	if u.AccessType == "" {
		u.AccessType = model.ChannelOnline
	}
	if u.AccessType != model.ChannelOnline && u.AccessType != model.ChannelOffline {
		return model.User{}, rejected(ErrInvalidInput, "accessType must be online or offline")
	}
	if email := normalizeEmail(in.Email); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return model.User{}, rejected(ErrInvalidInput, "invalid email address")
		}
		u.Email = &email
	}
	if a := strings.TrimSpace(in.Angkatan); a != "" {
		u.Angkatan = &a
	}

	id, err := s.store.CreateVoter(ctx, u)
	if errors.Is(err, repository.ErrConflict) {
		return model.User{}, rejected(ErrConflict, "a voter with roll number %s already exists (it may be soft deleted)", u.NIM)
	}
	if err != nil {
		return model.User{}, infra("create voter", err)
	}
	invalidate(ctx, s.cache, s.log)
	return s.loadAny(ctx, id)
}

// SearchVoters pages through the register.  Limit defaults to 50 and is
// capped at 500.
func (s *UserAdminService) SearchVoters(ctx context.Context, f model.VoterFilter) (VoterPage, error) {
	if f.Limit <= 0 {
		f.Limit = defaultVoterPage
	}
	if f.Limit > maxVoterPage {
		f.Limit = maxVoterPage
	}
	if f.Page < 1 {
		f.Page = 1
	}
	users, total, err := s.store.SearchVoters(ctx, f)
	if err != nil {
		return VoterPage{}, infra("search voters", err)
	}
	return VoterPage{
		Data:       users,
		Total:      total,
		Page:       f.Page,
		TotalPages: (total + f.Limit - 1) / f.Limit,
	}, nil
}

// Users lists every account including staff and deleted rows.
func (s *UserAdminService) Users(ctx context.Context) ([]model.User, error) {
	us, err := s.store.AllUsers(ctx)
	if err != nil {
		return nil, infra("list users", err)
	}
	return us, nil
}

// DeleteVoter soft deletes a voter who has not voted yet.  A consumed
// voting right stays on the register so turnout matches the ledger.
func (s *UserAdminService) DeleteVoter(ctx context.Context, id uint64) (model.User, error) {
	u, err := s.loadAny(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if u.Role != model.RoleVoter {
		return model.User{}, rejected(ErrNotFound, "voter not found")
	}
	if u.HasVoted {
		return model.User{}, rejected(ErrForbidden, "voter %s has already voted and cannot be removed", u.NIM)
	}
	now := s.now().UTC()
	return s.setDeleted(ctx, u, &now)
}

func (s *UserAdminService) RestoreVoter(ctx context.Context, id uint64) (model.User, error) {
	u, err := s.loadAny(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if u.Role != model.RoleVoter {
		return model.User{}, rejected(ErrNotFound, "voter not found")
	}
	return s.setDeleted(ctx, u, nil)
}

func (s *UserAdminService) setDeleted(ctx context.Context, u model.User, at *time.Time) (model.User, error) {
	err := s.store.SetUserDeleted(ctx, u.ID, at)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, rejected(ErrNotFound, "voter not found")
	}
	if err != nil {
		return model.User{}, infra("set voter deleted", err)
	}
	invalidate(ctx, s.cache, s.log)
	u.DeletedAt = at
	return u, nil
}

func (s *UserAdminService) loadAny(ctx context.Context, id uint64) (model.User, error) {
	u, err := s.store.UserByIDAny(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, rejected(ErrNotFound, "user not found")
	}
	if err != nil {
		return model.User{}, infra("load user", err)
	}
	return u, nil
}
