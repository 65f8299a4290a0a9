// Package poll implements the poll lifecycle: listing, creation, edition
// before opening, and deletion.
package poll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/opina/server/internal/apperr"
	"github.com/opina/server/internal/model"
	"github.com/opina/server/internal/repo"
	"github.com/opina/server/internal/stats"
)

const (
	maxTitleLen  = 255
	maxOptionLen = 255
	minOptions   = 2
)

const (
	msgNotFound     = "Sondage non trouvé"
	msgTitleTaken   = "Un sondage avec ce titre existe déjà"
	msgBadWindow    = "La date de fin doit être après la date de début"
	msgBadCategory  = "Catégorie invalide"
	msgStarted      = "Impossible de modifier un sondage qui a déjà commencé"
	msgConfirmReset = "Le remplacement des options supprime les votes existants et doit être confirmé"
)

// Input is the payload of Create
type Input struct {
	Title       string
	Description *string
	Options     []string
	Start       time.Time
	End         time.Time
	CategoryID  int64
	CreatorID   int64
}

// Patch is a partial update. An empty Description clears it. Options replacement deletes every vote on the
// poll and is refused unless ConfirmReplaceOptions is set.
type Patch struct {
	Title                 model.Optional[string]
	Description           model.Optional[string]
	Start                 model.Optional[time.Time]
	End                   model.Optional[time.Time]
	CategoryID            model.Optional[int64]
	Options               model.Optional[[]string]
	ConfirmReplaceOptions bool
}

// Detail is a poll with its options and, for an identified caller, the
// caller's vote and, once closed, the results.
type Detail struct {
	model.Poll
	Options  []model.Option    `json:"options"`
	HasVoted *bool             `json:"a_vote,omitempty"`
	Vote     *model.Vote       `json:"vote"`
	Results  *model.Statistics `json:"resultats,omitempty"`
}

// Service implements the poll lifecycle
type Service struct {
	polls      repo.PollRepo
	categories repo.CategoryRepo
	votes      repo.VoteRepo
	stats      *stats.Service
	now        func() time.Time
}

// NewService creates a poll service
func NewService(polls repo.PollRepo, categories repo.CategoryRepo, votes repo.VoteRepo, statsService *stats.Service, now func() time.Time) *Service {
	return &Service{
		polls:      polls,
		categories: categories,
		votes:      votes,
		stats:      statsService,
		now:        now,
	}
}

// ListOpen returns the polls that have not ended, soonest start first,
// optionally restricted to one category.
func (s *Service) ListOpen(ctx context.Context, categoryID *int64) ([]model.Poll, error) {
	now := s.now()
	polls, err := s.polls.ListOpen(ctx, now, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list open polls: %w", err)
	}
	return withStatus(polls, now), nil
}

// ListAll returns every poll, newest first
func (s *Service) ListAll(ctx context.Context) ([]model.Poll, error) {
	polls, err := s.polls.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	return withStatus(polls, s.now()), nil
}

func withStatus(polls []model.Poll, now time.Time) []model.Poll {
	for i := range polls {
		polls[i].Status = model.ClassifyPoll(polls[i], now)
	}
	return polls
}

// Get returns one poll. callerID is nil for anonymous requests.
func (s *Service) Get(ctx context.Context, id int64, callerID *int64) (*Detail, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	p.Status = model.ClassifyPoll(p, now)

	options, err := s.polls.Options(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get poll options: %w", err)
	}
	d := &Detail{Poll: p, Options: options}
	if callerID == nil {
		return d, nil
	}

	v, err := s.votes.FindByPollAndUser(ctx, id, *callerID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("get caller vote: %w", err)
	default:
		d.Vote = &v
	}
	voted := d.Vote != nil
	d.HasVoted = &voted

	if p.Status == model.PollClosed && model.ClassifyVote(d.Vote) == model.VoteValidated {
		if d.Results, err = s.stats.Compute(ctx, p); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Create inserts a poll and its options in one transaction
func (s *Service) Create(ctx context.Context, in Input) (*Detail, error) {
	title := strings.TrimSpace(in.Title)
	options, fields := cleanOptions(in.Options)
	fields = append(checkTitle(title), fields...)
	if len(fields) > 0 {
		return nil, apperr.Invalid("Données invalides", fields...)
	}

	if err := s.checkCategory(ctx, in.CategoryID); err != nil {
		return nil, err
	}
	if !in.End.After(in.Start) {
		return nil, apperr.New(apperr.Validation, msgBadWindow)
	}
	if err := s.checkTitleFree(ctx, title, 0); err != nil {
		return nil, err
	}

	categoryID := in.CategoryID
	id, err := s.polls.CreateWithOptions(ctx, model.Poll{
		Title:       title,
		Description: in.Description,
		CreatorID:   in.CreatorID,
		Category:    &model.CategoryRef{ID: categoryID},
		Start:       in.Start,
		End:         in.End,
	}, options)
	if err != nil {
		if repo.ConstraintOf(err) == repo.ConstraintPollTitle {
			return nil, apperr.New(apperr.Conflict, msgTitleTaken)
		}
		return nil, fmt.Errorf("create poll: %w", err)
	}
	return s.Get(ctx, id, nil)
}

// Update merges patch into a poll that has not started and writes it back.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (*Detail, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if model.ClassifyPoll(p, now) != model.PollUpcoming {
		return nil, apperr.New(apperr.Conflict, msgStarted)
	}

	if title, ok := patch.Title.Get(); ok {
		title = strings.TrimSpace(title)
		if fields := checkTitle(title); len(fields) > 0 {
			return nil, apperr.Invalid("Données invalides", fields...)
		}
		if title != p.Title {
			if err := s.checkTitleFree(ctx, title, id); err != nil {
				return nil, err
			}
		}
		p.Title = title
	}
	if desc, ok := patch.Description.Get(); ok {
		p.Description = clearable(desc)
	}
	if categoryID, ok := patch.CategoryID.Get(); ok {
		if err := s.checkCategory(ctx, categoryID); err != nil {
			return nil, err
		}
		p.Category = &model.CategoryRef{ID: categoryID}
	}
	p.Start = patch.Start.Or(p.Start)
	p.End = patch.End.Or(p.End)
	if !p.End.After(p.Start) {
		return nil, apperr.New(apperr.Validation, msgBadWindow)
	}

	var replacement model.Optional[[]model.NewOption]
	if raw, ok := patch.Options.Get(); ok {
		options, fields := cleanOptions(raw)
		if len(fields) > 0 {
			return nil, apperr.Invalid("Données invalides", fields...)
		}
		if !patch.ConfirmReplaceOptions {
			return nil, apperr.Invalid(msgConfirmReset, apperr.FieldError{
				Field:   "confirmer_remplacement_options",
				Message: msgConfirmReset,
			})
		}
		replacement = model.Some(options)
	}

	if err := s.polls.Update(ctx, p, replacement, now); err != nil {
		switch {
		case errors.Is(err, repo.ErrStateChanged):
			return nil, apperr.New(apperr.Conflict, msgStarted)
		case repo.ConstraintOf(err) == repo.ConstraintPollTitle:
			return nil, apperr.New(apperr.Conflict, msgTitleTaken)
		}
		return nil, fmt.Errorf("update poll: %w", err)
	}
	return s.Get(ctx, id, nil)
}

// Delete removes a poll with its options and votes
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.polls.Delete(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.New(apperr.NotFound, msgNotFound)
		}
		return fmt.Errorf("delete poll: %w", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, id int64) (model.Poll, error) {
	p, err := s.polls.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Poll{}, apperr.New(apperr.NotFound, msgNotFound)
		}
		return model.Poll{}, fmt.Errorf("get poll: %w", err)
	}
	return p, nil
}

func (s *Service) checkCategory(ctx context.Context, id int64) error {
	if id <= 0 {
		return apperr.Invalid(msgBadCategory, apperr.FieldError{Field: "id_categorie", Message: "La catégorie est requise"})
	}
	ok, err := s.categories.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("check category: %w", err)
	}
	if !ok {
		return apperr.Invalid(msgBadCategory, apperr.FieldError{Field: "id_categorie", Message: "Catégorie non trouvée"})
	}
	return nil
}

func (s *Service) checkTitleFree(ctx context.Context, title string, exceptID int64) error {
	taken, err := s.polls.TitleTaken(ctx, title, exceptID)
	if err != nil {
		return fmt.Errorf("check title: %w", err)
	}
	if taken {
		return apperr.New(apperr.Conflict, msgTitleTaken)
	}
	return nil
}

func checkTitle(title string) []apperr.FieldError {
	switch {
	case title == "":
		return []apperr.FieldError{{Field: "titre", Message: "Le titre est requis"}}
	case utf8.RuneCountInString(title) > maxTitleLen:
		return []apperr.FieldError{{Field: "titre", Message: "Le titre est trop long"}}
	}
	return nil
}

func cleanOptions(raw []string) ([]model.NewOption, []apperr.FieldError) {
	if len(raw) < minOptions {
		return nil, []apperr.FieldError{{Field: "options", Message: "Au moins 2 options sont requises"}}
	}
	options := make([]model.NewOption, 0, len(raw))
	for i, text := range raw {
		text = strings.TrimSpace(text)
		if text == "" || utf8.RuneCountInString(text) > maxOptionLen {
			return nil, []apperr.FieldError{{Field: fmt.Sprintf("options[%d]", i), Message: "Option invalide"}}
		}
		options = append(options, model.NewOption{Text: text})
	}
	return options, nil
}

// clearable maps an empty patch value to NULL
func clearable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
