// Package vote implements the two-step vote workflow: a vote is cast as
// pending with a one-time code sent out of band, then validated with it.
package vote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/opina/server/internal/apperr"
	"github.com/opina/server/internal/auth"
	"github.com/opina/server/internal/config"
	"github.com/opina/server/internal/model"
	"github.com/opina/server/internal/notify"
	"github.com/opina/server/internal/repo"
	"github.com/opina/server/internal/stats"
)

const (
	msgAdminVote     = "Les administrateurs ne peuvent pas voter"
	msgPollNotFound  = "Sondage non trouvé"
	msgVoteNotFound  = "Vote non trouvé"
	msgNotYetOpen    = "Ce sondage n'est pas encore ouvert"
	msgClosed        = "Ce sondage est terminé"
	msgAlreadyVoted  = "Vous avez déjà voté pour ce sondage"
	msgBadOption     = "Option invalide"
	msgBadChannel    = "Type de validation invalide"
	msgNoPhone       = "Aucun numéro de téléphone enregistré"
	msgAlreadyValid  = "Ce vote est déjà validé"
	msgBadCode       = "Code invalide ou expiré"
	msgDispatchError = "Erreur lors de l'envoi du code de validation"

	msgCodeSent = "Vote enregistré. Veuillez valider avec le code envoyé."
	msgDevCode  = "Vote enregistré. Service de notification non configuré (mode développement)."
)

// ErrAdminVote is returned when an administrator tries to vote
var ErrAdminVote = apperr.New(apperr.Forbidden, msgAdminVote)

// CodeSender delivers a validation code on a channel
type CodeSender interface {
	SendCode(ctx context.Context, channel model.Channel, to, code string) error
}

// Options tunes the workflow
type Options struct {
	ExpiryPolicy config.TokenExpiryPolicy
	CodeTTL      time.Duration
	// DevMode keeps the pending vote when delivery fails and hands the
	// code back to the caller.
	DevMode bool
}

// CastInput is the payload of Cast
type CastInput struct {
	PollID   int64
	OptionID int64
	Channel  model.Channel
	UserID   int64
	IsAdmin  bool
}

// Pending is the result of casting a vote or resending its code
type Pending struct {
	Message string        `json:"message"`
	VoteID  int64         `json:"id_vote"`
	Channel model.Channel `json:"type_validation"`
	DevCode string        `json:"code_validation,omitempty"`
}

// Service implements the vote lifecycle
type Service struct {
	polls   repo.PollRepo
	votes   repo.VoteRepo
	users   repo.UserRepo
	stats   *stats.Service
	sender  CodeSender
	opts    Options
	now     func() time.Time
	newCode func() (string, error)
}

// NewService creates a vote service
func NewService(polls repo.PollRepo, votes repo.VoteRepo, users repo.UserRepo, statsService *stats.Service, sender CodeSender, opts Options, now func() time.Time) *Service {
	if opts.ExpiryPolicy == "" {
		opts.ExpiryPolicy = config.BlockRetry
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 15 * time.Minute
	}
	return &Service{
		polls:   polls,
		votes:   votes,
		users:   users,
		stats:   statsService,
		sender:  sender,
		opts:    opts,
		now:     now,
		newCode: auth.GenerateCode,
	}
}

// Cast records a pending vote and sends its validation code
func (s *Service) Cast(ctx context.Context, in CastInput) (*Pending, error) {
	if in.IsAdmin {
		return nil, ErrAdminVote
	}
	if !in.Channel.Valid() {
		return nil, apperr.Invalid(msgBadChannel, apperr.FieldError{Field: "type_validation", Message: msgBadChannel})
	}

	p, err := s.polls.GetByID(ctx, in.PollID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, msgPollNotFound)
		}
		return nil, fmt.Errorf("cast vote: %w", err)
	}
	now := s.now()
	if err := requireOpen(p, now); err != nil {
		return nil, err
	}

	discard, err := s.existing(ctx, in.PollID, in.UserID, now)
	if err != nil {
		return nil, err
	}

	ok, err := s.votes.OptionBelongsToPoll(ctx, in.OptionID, in.PollID)
	if err != nil {
		return nil, fmt.Errorf("cast vote: %w", err)
	}
	if !ok {
		return nil, apperr.New(apperr.Validation, msgBadOption)
	}

	to, err := s.destination(ctx, in.UserID, in.Channel)
	if err != nil {
		return nil, err
	}

	code, err := s.newCode()
	if err != nil {
		return nil, fmt.Errorf("cast vote: %w", err)
	}

	v, err := s.votes.CreatePending(ctx, repo.PendingVote{
		Vote: model.Vote{PollID: in.PollID, UserID: in.UserID, OptionID: in.OptionID},
		Token: model.ValidationToken{
			Code:      code,
			Channel:   in.Channel,
			ExpiresAt: now.Add(s.opts.CodeTTL),
		},
		DiscardVoteID: discard,
	}, now)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) || errors.Is(err, repo.ErrStateChanged) {
			return nil, apperr.New(apperr.Conflict, msgAlreadyVoted)
		}
		return nil, fmt.Errorf("cast vote: %w", err)
	}

	if err := s.sender.SendCode(ctx, in.Channel, to, code); err != nil {
		return s.dispatchFailed(ctx, v.ID, in.Channel, code, err, true)
	}
	return &Pending{Message: msgCodeSent, VoteID: v.ID, Channel: in.Channel}, nil
}

// existing returns the id of a pending vote that may be replaced, or a
// Conflict when the pair already holds a vote.
func (s *Service) existing(ctx context.Context, pollID, userID int64, now time.Time) (int64, error) {
	v, err := s.votes.FindByPollAndUser(ctx, pollID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find existing vote: %w", err)
	}
	if s.opts.ExpiryPolicy != config.AllowRetry || model.ClassifyVote(&v) != model.VotePending {
		return 0, apperr.New(apperr.Conflict, msgAlreadyVoted)
	}
	live, err := s.votes.LiveTokenCount(ctx, v.ID, now)
	if err != nil {
		return 0, fmt.Errorf("count live tokens: %w", err)
	}
	if live > 0 {
		return 0, apperr.New(apperr.Conflict, msgAlreadyVoted)
	}
	return v.ID, nil
}

func (s *Service) destination(ctx context.Context, userID int64, channel model.Channel) (string, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", apperr.New(apperr.Unauthorized, "Utilisateur non trouvé")
		}
		return "", fmt.Errorf("load voter: %w", err)
	}
	if channel == model.ChannelSMS {
		if u.Phone == nil || *u.Phone == "" {
			return "", apperr.New(apperr.Validation, msgNoPhone)
		}
		return *u.Phone, nil
	}
	return u.Email, nil
}

// dispatchFailed handles a code that could not be delivered. Outside dev
// mode a freshly cast vote is removed so the user can vote again.
func (s *Service) dispatchFailed(ctx context.Context, voteID int64, channel model.Channel, code string, cause error, compensate bool) (*Pending, error) {
	log.Printf("vote %d: failed to send %s code: %v", voteID, channel, cause)
	if s.opts.DevMode {
		return &Pending{Message: msgDevCode, VoteID: voteID, Channel: channel, DevCode: code}, nil
	}
	if compensate {
		if err := s.votes.DeletePending(ctx, voteID); err != nil && !errors.Is(err, repo.ErrNotFound) {
			log.Printf("vote %d: failed to remove pending vote: %v", voteID, err)
		}
	}
	return nil, apperr.Wrap(apperr.Internal, msgDispatchError, cause)
}

// Confirm validates a pending vote with one of its live codes
func (s *Service) Confirm(ctx context.Context, voteID int64, code string, userID int64) error {
	v, err := s.votes.GetForUser(ctx, voteID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.New(apperr.NotFound, msgVoteNotFound)
		}
		return fmt.Errorf("confirm vote: %w", err)
	}
	if model.ClassifyVote(&v) == model.VoteValidated {
		return apperr.New(apperr.Conflict, msgAlreadyValid)
	}

	now := s.now()
	token, err := s.votes.FindUsableToken(ctx, voteID, code, now)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.New(apperr.Validation, msgBadCode)
		}
		return fmt.Errorf("confirm vote: %w", err)
	}

	if err := s.votes.Confirm(ctx, voteID, token.ID, now); err != nil {
		if errors.Is(err, repo.ErrStateChanged) {
			return apperr.New(apperr.Conflict, msgAlreadyValid)
		}
		return fmt.Errorf("confirm vote: %w", err)
	}
	return nil
}

// Resend issues a new code for a pending vote of the caller, on the channel
// of its latest code. Earlier codes stay usable until they expire.
func (s *Service) Resend(ctx context.Context, voteID, userID int64) (*Pending, error) {
	v, err := s.votes.GetForUser(ctx, voteID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, msgVoteNotFound)
		}
		return nil, fmt.Errorf("resend code: %w", err)
	}
	if model.ClassifyVote(&v) == model.VoteValidated {
		return nil, apperr.New(apperr.Conflict, msgAlreadyValid)
	}

	p, err := s.polls.GetByID(ctx, v.PollID)
	if err != nil {
		return nil, fmt.Errorf("resend code: %w", err)
	}
	now := s.now()
	if err := requireOpen(p, now); err != nil {
		return nil, err
	}

	channel := model.ChannelEmail
	latest, err := s.votes.LatestToken(ctx, voteID)
	switch {
	case err == nil:
		channel = latest.Channel
	case !errors.Is(err, repo.ErrNotFound):
		return nil, fmt.Errorf("resend code: %w", err)
	}

	to, err := s.destination(ctx, userID, channel)
	if err != nil {
		return nil, err
	}
	code, err := s.newCode()
	if err != nil {
		return nil, fmt.Errorf("resend code: %w", err)
	}
	err = s.votes.AddToken(ctx, model.ValidationToken{
		VoteID:    voteID,
		Code:      code,
		Channel:   channel,
		ExpiresAt: now.Add(s.opts.CodeTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("resend code: %w", err)
	}

	if err := s.sender.SendCode(ctx, channel, to, code); err != nil {
		return s.dispatchFailed(ctx, voteID, channel, code, err, false)
	}
	return &Pending{Message: msgCodeSent, VoteID: voteID, Channel: channel}, nil
}

// History returns the validated votes of a user, most recent first, each
// with the current breakdown of its poll.
func (s *Service) History(ctx context.Context, userID int64) ([]model.HistoryEntry, error) {
	entries, err := s.votes.History(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("vote history: %w", err)
	}
	for i := range entries {
		e := &entries[i]
		res, err := s.stats.Compute(ctx, model.Poll{ID: e.PollID, Title: e.Title, Start: e.Start, End: e.End})
		if err != nil {
			return nil, err
		}
		e.Options = res.Options
	}
	return entries, nil
}

func requireOpen(p model.Poll, now time.Time) error {
	switch model.ClassifyPoll(p, now) {
	case model.PollUpcoming:
		return apperr.New(apperr.Validation, msgNotYetOpen)
	case model.PollClosed:
		return apperr.New(apperr.Validation, msgClosed)
	}
	return nil
}

var _ CodeSender = (*notify.Dispatcher)(nil)
