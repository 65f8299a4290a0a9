package testutil

import (
	"time"

	"github.com/opina/server/internal/model"
)

// SeedUser inserts a local account
func (s *Store) SeedUser(name, email string, phone *string, isAdmin bool) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := model.User{
		ID:         s.nextID(),
		Name:       name,
		Email:      email,
		Phone:      phone,
		AuthMethod: model.AuthLocal,
		IsAdmin:    isAdmin,
		CreatedAt:  s.clock.Now(),
	}
	s.users[u.ID] = u
	return u
}

// SeedCategory inserts a category
func (s *Store) SeedCategory(name string) model.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := model.Category{ID: s.nextID(), Name: name, Color: "#3B82F6", CreatedAt: s.clock.Now()}
	s.categories[c.ID] = c
	return c
}

// SeedPoll inserts a poll with options in the given order and returns it
// with its options.
func (s *Store) SeedPoll(title string, creatorID int64, categoryID *int64, start, end time.Time, options ...string) (model.Poll, []model.Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	p := model.Poll{ID: s.nextID(), Title: title, CreatorID: creatorID, Start: start, End: end, CreatedAt: now, UpdatedAt: now}
	s.polls[p.ID] = &pollRow{Poll: p, categoryID: categoryID}

	news := make([]model.NewOption, len(options))
	for i, text := range options {
		news[i] = model.NewOption{Text: text}
	}
	s.insertOptions(p.ID, news)
	return s.summary(s.polls[p.ID]), s.optionsOf(p.ID)
}

// SeedVote inserts a vote row directly
func (s *Store) SeedVote(pollID, userID, optionID int64, validated bool) model.Vote {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := model.Vote{ID: s.nextID(), PollID: pollID, UserID: userID, OptionID: optionID, Validated: validated, CreatedAt: s.clock.Now()}
	s.votes[v.ID] = v
	return v
}
