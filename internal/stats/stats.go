// Package stats aggregates validated votes into per-option percentages.
package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/opina/server/internal/apperr"
	"github.com/opina/server/internal/model"
	"github.com/opina/server/internal/repo"
)

// Percentage returns count as a share of total, rounded to two decimals.
// It is 0 when total is 0.
func Percentage(count, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(count)*10000/float64(total)) / 100
}

// Breakdown turns raw counts into option statistics and returns the
// winning option ids. Every option sharing the maximum count wins; nobody
// wins a poll without votes.
func Breakdown(counts []model.OptionCount) (options []model.OptionStat, winners []int64, total int) {
	top := 0
	for _, c := range counts {
		total += c.Count
		if c.Count > top {
			top = c.Count
		}
	}

	options = make([]model.OptionStat, 0, len(counts))
	winners = []int64{}
	for _, c := range counts {
		winner := total > 0 && c.Count == top
		if winner {
			winners = append(winners, c.Option.ID)
		}
		options = append(options, model.OptionStat{
			ID:          c.Option.ID,
			Text:        c.Option.Text,
			Description: c.Option.Description,
			Order:       c.Option.Order,
			Count:       c.Count,
			Percentage:  Percentage(c.Count, total),
			Winner:      winner,
		})
	}
	return options, winners, total
}

// Service computes poll results
type Service struct {
	polls repo.PollRepo
	votes repo.VoteRepo
	now   func() time.Time
}

// NewService creates a statistics service
func NewService(polls repo.PollRepo, votes repo.VoteRepo, now func() time.Time) *Service {
	return &Service{polls: polls, votes: votes, now: now}
}

// Get returns the results of a poll. Results are withheld until the poll closes.
func (s *Service) Get(ctx context.Context, pollID int64) (*model.Statistics, error) {
	p, err := s.polls.GetByID(ctx, pollID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "Sondage non trouvé")
		}
		return nil, fmt.Errorf("get statistics: %w", err)
	}
	if model.ClassifyPoll(p, s.now()) != model.PollClosed {
		return nil, apperr.New(apperr.Forbidden, "Les statistiques ne sont disponibles qu'après la clôture du sondage")
	}
	return s.Compute(ctx, p)
}

// Compute builds the statistics of p regardless of its status
func (s *Service) Compute(ctx context.Context, p model.Poll) (*model.Statistics, error) {
	counts, err := s.votes.OptionCounts(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("compute statistics: %w", err)
	}
	options, winners, total := Breakdown(counts)
	return &model.Statistics{
		Poll: model.PollSummary{
			ID:          p.ID,
			Title:       p.Title,
			Description: p.Description,
			Start:       p.Start,
			End:         p.End,
		},
		Total:   total,
		Options: options,
		Winners: winners,
	}, nil
}
