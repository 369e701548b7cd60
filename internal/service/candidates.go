package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/repository"
)

// CandidateInput holds the editable fields of a candidate.
type CandidateInput struct {
	OrderNumber int
	Name        string
	Vision      *string
	Mission     *string
	PhotoURL    *string
}

// CandidateService maintains the ballot.  Removal is a soft delete: the
// ledger keeps every vote, the candidate just stops accepting new ones.
type CandidateService struct {
	store repository.Store
	cache Invalidator
	log   *slog.Logger
	now   func() time.Time
}

func NewCandidateService(store repository.Store, cache Invalidator, log *slog.Logger) *CandidateService {
	if log == nil {
		log = slog.Default()
	}
	return &CandidateService{store: store, cache: cache, log: log, now: time.Now}
}

func (s *CandidateService) List(ctx context.Context, includeDeleted bool) ([]model.Candidate, error) {
	cs, err := s.store.ListCandidates(ctx, includeDeleted)
	if err != nil {
		return nil, infra("list candidates", err)
	}
	return cs, nil
}

func (s *CandidateService) Create(ctx context.Context, in CandidateInput) (model.Candidate, error) {
	c, err := in.candidate()
	if err != nil {
		return model.Candidate{}, err
	}
	id, err := s.store.CreateCandidate(ctx, c)
	if errors.Is(err, repository.ErrConflict) {
		return model.Candidate{}, positionTaken(c.OrderNumber)
	}
	if err != nil {
		return model.Candidate{}, infra("create candidate", err)
	}
	s.invalidate(ctx)
	return s.load(ctx, id)
}

// Update replaces every editable field of candidate id, deleted or not.
func (s *CandidateService) Update(ctx context.Context, id uint64, in CandidateInput) (model.Candidate, error) {
	c, err := in.candidate()
	if err != nil {
		return model.Candidate{}, err
	}
	c.ID = id
	switch err := s.store.UpdateCandidate(ctx, c); {
	case errors.Is(err, repository.ErrNotFound):
		return model.Candidate{}, rejected(ErrNotFound, "candidate not found")
	case errors.Is(err, repository.ErrConflict):
		return model.Candidate{}, positionTaken(c.OrderNumber)
	case err != nil:
		return model.Candidate{}, infra("update candidate", err)
	}
	s.invalidate(ctx)
	return s.load(ctx, id)
}

// SoftDelete withdraws the candidate from the ballot.  Votes already cast
// for it stay in the ledger and come back with Restore.
func (s *CandidateService) SoftDelete(ctx context.Context, id uint64) (model.Candidate, error) {
	now := s.now().UTC()
	return s.setDeleted(ctx, id, &now)
}

func (s *CandidateService) Restore(ctx context.Context, id uint64) (model.Candidate, error) {
	return s.setDeleted(ctx, id, nil)
}

// Purge removes a candidate for good.  Only candidates nobody voted for
// can go; the rest must stay to keep the ledger whole.
func (s *CandidateService) Purge(ctx context.Context, id uint64) (model.Candidate, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return model.Candidate{}, err
	}
	switch err := s.store.DeleteCandidate(ctx, id); {
	case errors.Is(err, repository.ErrNotFound):
		return model.Candidate{}, rejected(ErrNotFound, "candidate not found")
	case errors.Is(err, repository.ErrConflict):
		return model.Candidate{}, rejected(ErrConflict, "candidate has recorded votes; soft delete it instead")
	case err != nil:
		return model.Candidate{}, infra("delete candidate", err)
	}
	s.invalidate(ctx)
	return c, nil
}

func (s *CandidateService) setDeleted(ctx context.Context, id uint64, at *time.Time) (model.Candidate, error) {
	err := s.store.SetCandidateDeleted(ctx, id, at)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Candidate{}, rejected(ErrNotFound, "candidate not found")
	}
	if err != nil {
		return model.Candidate{}, infra("set candidate deleted", err)
	}
	s.invalidate(ctx)
	return s.load(ctx, id)
}

func (s *CandidateService) load(ctx context.Context, id uint64) (model.Candidate, error) {
	c, err := s.store.CandidateByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Candidate{}, rejected(ErrNotFound, "candidate not found")
	}
	if err != nil {
		return model.Candidate{}, infra("load candidate", err)
	}
	return c, nil
}

func (s *CandidateService) invalidate(ctx context.Context) { invalidate(ctx, s.cache, s.log) }

func (in CandidateInput) candidate() (model.Candidate, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.Candidate{}, rejected(ErrInvalidInput, "name is required")
	}
	if in.OrderNumber < 1 {
		return model.Candidate{}, rejected(ErrInvalidInput, "orderNumber must be a positive number")
	}
	return model.Candidate{
		OrderNumber: in.OrderNumber,
		Name:        name,
		Vision:      optional(in.Vision),
		Mission:     optional(in.Mission),
		PhotoURL:    optional(in.PhotoURL),
	}, nil
}

func positionTaken(order int) error {
	return rejected(ErrConflict, "ballot position %d is already taken", order)
}

// optional trims s and turns a blank value into NULL.
func optional(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
