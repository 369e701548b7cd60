package service

import (
	"context"
	"fmt"

	"github.com/iliyamo/election-backend/internal/model"
	"github.com/iliyamo/election-backend/internal/repository"
)

// ActivityLimit is the size of the recent-votes feed.
const ActivityLimit = 10

// ResultsService computes the aggregate views.  Caching happens in front of
// it, at the HTTP layer.
type ResultsService struct {
	store repository.Store
}

func NewResultsService(store repository.Store) *ResultsService {
	return &ResultsService{store: store}
}

func (s *ResultsService) Stats(ctx context.Context) (model.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return model.Stats{}, infra("stats", err)
	}
	st.Turnout = turnout(st.VotesCast, st.TotalVoters)
	return st, nil
}

func (s *ResultsService) Results(ctx context.Context) ([]model.CandidateResult, error) {
	res, err := s.store.Results(ctx)
	if err != nil {
		return nil, infra("results", err)
	}
	return res, nil
}

func (s *ResultsService) Activity(ctx context.Context) ([]model.Activity, error) {
	act, err := s.store.RecentActivity(ctx, ActivityLimit)
	if err != nil {
		return nil, infra("activity", err)
	}
	return act, nil
}

func (s *ResultsService) Candidates(ctx context.Context) ([]model.Candidate, error) {
	cs, err := s.store.ActiveCandidates(ctx)
	if err != nil {
		return nil, infra("candidates", err)
	}
	return cs, nil
}

// turnout formats cast/total as a percentage with two decimals.
func turnout(cast, total int64) string {
	if total <= 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(cast)*100/float64(total))
}
