// Package testutil provides in-memory repositories and a controllable clock
// for unit tests of the services and handlers.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/opina/server/internal/model"
	"github.com/opina/server/internal/repo"
)

// Clock is a settable time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at t
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type pollRow struct {
	model.Poll
	categoryID *int64
}

// Store keeps every table in memory and enforces the same unique and
// cascade rules as the PostgreSQL schema.
type Store struct {
	mu    sync.Mutex
	clock *Clock
	seq   int64

	users      map[int64]model.User
	categories map[int64]model.Category
	polls      map[int64]*pollRow
	options    map[int64]model.Option
	votes      map[int64]model.Vote
	tokens     map[int64]model.ValidationToken

	// FailCreateVote makes CreatePending fail with this error when set.
	FailCreateVote error
}

// NewStore returns an empty store stamping rows with clock
func NewStore(clock *Clock) *Store {
	return &Store{
		clock:      clock,
		users:      map[int64]model.User{},
		categories: map[int64]model.Category{},
		polls:      map[int64]*pollRow{},
		options:    map[int64]model.Option{},
		votes:      map[int64]model.Vote{},
		tokens:     map[int64]model.ValidationToken{},
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// Users returns the user repository view of the store
func (s *Store) Users() repo.UserRepo { return userStore{s} }

// Categories returns the category repository view of the store
func (s *Store) Categories() repo.CategoryRepo { return categoryStore{s} }

// Polls returns the poll repository view of the store
func (s *Store) Polls() repo.PollRepo { return pollStore{s} }

// Votes returns the vote repository view of the store
func (s *Store) Votes() repo.VoteRepo { return voteStore{s} }

// VoteCount returns the number of vote rows, validated or not
func (s *Store) VoteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.votes)
}

// OptionCount returns the number of option rows
func (s *Store) OptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.options)
}

// Tokens returns the tokens issued for a vote, oldest first
func (s *Store) Tokens(voteID int64) []model.ValidationToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ValidationToken
	for _, t := range s.tokens {
		if t.VoteID == voteID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ExpireTokens moves the expiry of every token of the vote to the past
func (s *Store) ExpireTokens(voteID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tokens {
		if t.VoteID == voteID {
			t.ExpiresAt = s.clock.Now().Add(-time.Second)
			s.tokens[id] = t
		}
	}
}

func dup(constraint string) error {
	return &repo.DuplicateError{Constraint: constraint, Err: errors.New("unique violation")}
}

// users

type userStore struct{ s *Store }

func (u userStore) Create(_ context.Context, in model.User) (model.User, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == in.Email {
			return model.User{}, dup(repo.ConstraintUserEmail)
		}
		if in.Phone != nil && existing.Phone != nil && *existing.Phone == *in.Phone {
			return model.User{}, dup(repo.ConstraintUserPhone)
		}
	}
	in.ID = s.nextID()
	in.CreatedAt = s.clock.Now()
	s.users[in.ID] = in
	return in, nil
}

func (u userStore) GetByID(_ context.Context, id int64) (model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return model.User{}, repo.ErrNotFound
	}
	return user, nil
}

func (u userStore) GetByEmail(_ context.Context, email string) (model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, user := range u.s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return model.User{}, repo.ErrNotFound
}

func (u userStore) List(_ context.Context) ([]model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	users := []model.User{}
	for _, user := range u.s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID > users[j].ID })
	return users, nil
}

func (u userStore) SetAdmin(_ context.Context, id int64, isAdmin bool) (model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return model.User{}, repo.ErrNotFound
	}
	user.IsAdmin = isAdmin
	u.s.users[id] = user
	return user, nil
}

func (u userStore) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := u.GetByEmail(ctx, email)
	return err == nil, nil
}

func (u userStore) PhoneExists(_ context.Context, phone string) (bool, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, user := range u.s.users {
		if user.Phone != nil && *user.Phone == phone {
			return true, nil
		}
	}
	return false, nil
}

// categories

type categoryStore struct{ s *Store }

func (c categoryStore) List(_ context.Context) ([]model.Category, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	out := []model.Category{}
	for _, cat := range c.s.categories {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c categoryStore) GetByID(_ context.Context, id int64) (model.Category, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	cat, ok := c.s.categories[id]
	if !ok {
		return model.Category{}, repo.ErrNotFound
	}
	return cat, nil
}

func (c categoryStore) Exists(ctx context.Context, id int64) (bool, error) {
	_, err := c.GetByID(ctx, id)
	return err == nil, nil
}

func (c categoryStore) NameTaken(_ context.Context, name string, exceptID int64) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	for _, cat := range c.s.categories {
		if cat.Name == name && cat.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (c categoryStore) Create(ctx context.Context, in model.Category) (model.Category, error) {
	if taken, _ := c.NameTaken(ctx, in.Name, 0); taken {
		return model.Category{}, dup(repo.ConstraintCategoryName)
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	in.ID = c.s.nextID()
	in.CreatedAt = c.s.clock.Now()
	c.s.categories[in.ID] = in
	return in, nil
}

func (c categoryStore) Update(ctx context.Context, in model.Category) (model.Category, error) {
	if taken, _ := c.NameTaken(ctx, in.Name, in.ID); taken {
		return model.Category{}, dup(repo.ConstraintCategoryName)
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	existing, ok := c.s.categories[in.ID]
	if !ok {
		return model.Category{}, repo.ErrNotFound
	}
	in.CreatedAt = existing.CreatedAt
	c.s.categories[in.ID] = in
	return in, nil
}

func (c categoryStore) Delete(_ context.Context, id int64) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if _, ok := c.s.categories[id]; !ok {
		return repo.ErrNotFound
	}
	for _, p := range c.s.polls {
		if p.categoryID != nil && *p.categoryID == id {
			return errors.New("category referenced by a poll")
		}
	}
	delete(c.s.categories, id)
	return nil
}

func (c categoryStore) CountPolls(_ context.Context, id int64) (int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	n := 0
	for _, p := range c.s.polls {
		if p.categoryID != nil && *p.categoryID == id {
			n++
		}
	}
	return n, nil
}

// polls

type pollStore struct{ s *Store }

// summary must be called with the lock held
func (s *Store) summary(row *pollRow) model.Poll {
	p := row.Poll
	p.CreatorName = s.users[p.CreatorID].Name
	p.Category = nil
	if row.categoryID != nil {
		if cat, ok := s.categories[*row.categoryID]; ok {
			p.Category = &model.CategoryRef{ID: cat.ID, Name: cat.Name, Color: cat.Color}
		}
	}
	p.ValidatedVotes = 0
	for _, v := range s.votes {
		if v.PollID == p.ID && v.Validated {
			p.ValidatedVotes++
		}
	}
	return p
}

func (ps pollStore) ListOpen(_ context.Context, now time.Time, categoryID *int64) ([]model.Poll, error) {
	s := ps.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Poll{}
	for _, row := range s.polls {
		if !row.End.After(now) {
			continue
		}
		if categoryID != nil && (row.categoryID == nil || *row.categoryID != *categoryID) {
			continue
		}
		out = append(out, s.summary(row))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (ps pollStore) ListAll(_ context.Context) ([]model.Poll, error) {
	s := ps.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Poll{}
	for _, row := range s.polls {
		out = append(out, s.summary(row))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (ps pollStore) GetByID(_ context.Context, id int64) (model.Poll, error) {
	s := ps.s
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.polls[id]
	if !ok {
		return model.Poll{}, repo.ErrNotFound
	}
	return s.summary(row), nil
}

func (ps pollStore) Options(_ context.Context, pollID int64) ([]model.Option, error) {
	s := ps.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optionsOf(pollID), nil
}

func (s *Store) optionsOf(pollID int64) []model.Option {
	out := []model.Option{}
	for _, o := range s.options {
		if o.PollID == pollID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (ps pollStore) TitleTaken(_ context.Context, title string, exceptID int64) (bool, error) {
	s := ps.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.titleTaken(title, exceptID), nil
}

func (s *Store) titleTaken(title string, exceptID int64) bool {
	for _, row := range s.polls {
		if row.Title == title && row.ID != exceptID {
			return true
		}
	}
	return false
}

func (s *Store) insertOptions(pollID int64, options []model.NewOption) {
	for i, o := range options {
		id := s.nextID()
		s.options[id] = model.Option{ID: id, PollID: pollID, Text: o.Text, Description: o.Description, Order: i}
	}
}

func (ps pollStore) CreateWithOptions(_ context.Context, p model.Poll, options []model.NewOption) (int64, error) {
	s := ps.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.titleTaken(p.Title, 0) {
		return 0, dup(repo.ConstraintPollTitle)
	}
	p.ID = s.nextID()
	p.CreatedAt = s.clock.Now()
	p.UpdatedAt = p.CreatedAt
	s.polls[p.ID] = &pollRow{Poll: p, categoryID: p.CategoryID()}
	s.insertOptions(p.ID, options)
	return p.ID, nil
}

func (ps pollStore) Update(_ context.Context, p model.Poll, options model.Optional[[]model.NewOption], now time.Time) error {
	s := ps.s
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.polls[p.ID]
	if !ok || !row.Start.After(now) {
		return repo.ErrStateChanged
	}
	if s.titleTaken(p.Title, p.ID) {
		return dup(repo.ConstraintPollTitle)
	}
	p.CreatedAt = row.CreatedAt
	p.UpdatedAt = s.clock.Now()
	s.polls[p.ID] = &pollRow{Poll: p, categoryID: p.CategoryID()}

	if replacement, ok := options.Get(); ok {
		for id, o := range s.options {
			if o.PollID == p.ID {
				s.deleteOption(id)
			}
		}
		s.insertOptions(p.ID, replacement)
	}
	return nil
}

// deleteOption cascades to votes on the option and their tokens
func (s *Store) deleteOption(id int64) {
	delete(s.options, id)
	for vid, v := range s.votes {
		if v.OptionID == id {
			s.deleteVote(vid)
		}
	}
}

func (s *Store) deleteVote(id int64) {
	delete(s.votes, id)
	for tid, t := range s.tokens {
		if t.VoteID == id {
			delete(s.tokens, tid)
		}
	}
}

func (ps pollStore) Delete(_ context.Context, id int64) error {
	s := ps.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.polls, id)
	for oid, o := range s.options {
		if o.PollID == id {
			s.deleteOption(oid)
		}
	}
	for vid, v := range s.votes {
		if v.PollID == id {
			s.deleteVote(vid)
		}
	}
	return nil
}

// votes

type voteStore struct{ s *Store }

func (vs voteStore) FindByPollAndUser(_ context.Context, pollID, userID int64) (model.Vote, error) {
	s := vs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.votes {
		if v.PollID == pollID && v.UserID == userID {
			return v, nil
		}
	}
	return model.Vote{}, repo.ErrNotFound
}

func (vs voteStore) GetForUser(_ context.Context, voteID, userID int64) (model.Vote, error) {
	s := vs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.votes[voteID]
	if !ok || v.UserID != userID {
		return model.Vote{}, repo.ErrNotFound
	}
	return v, nil
}

func (vs voteStore) OptionBelongsToPoll(_ context.Context, optionID, pollID int64) (bool, error) {
	s := vs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.options[optionID]
	return ok && o.PollID == pollID, nil
}

func (s *Store) liveTokens(voteID int64, now time.Time) int {
	n := 0
	for _, t := range s.tokens {
		if t.VoteID == voteID && t.Live(now) {
			n++
		}
	}
	return n
}

func (vs voteStore) CreatePending(_ context.Context, p repo.PendingVote, now time.Time) (model.Vote, error) {
	s := vs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreateVote != nil {
		return model.Vote{}, s.FailCreateVote
	}
	if p.DiscardVoteID != 0 {
		old, ok := s.votes[p.DiscardVoteID]
		if !ok || old.Validated || s.liveTokens(old.ID, now) > 0 {
			return model.Vote{}, repo.ErrStateChanged
		}
		s.deleteVote(old.ID)
	}
	for _, v := range s.votes {
		if v.PollID == p.Vote.PollID && v.UserID == p.Vote.UserID {
			return model.Vote{}, dup(repo.ConstraintVoteUnique)
		}
	}
	v := p.Vote
	v.ID = s.nextID()
	v.Validated = false
	v.CreatedAt = s.clock.Now()
	s.votes[v.ID] = v

	t := p.Token
	t.ID = s.nextID()
	t.VoteID = v.ID
	t.CreatedAt = v.CreatedAt
	s.tokens[t.ID] = t
	return v, nil
}

func (vs voteStore) AddToken(_ context.Context, t model.ValidationToken) error {
	s := vs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.votes[t.VoteID]; !ok {
		return errors.New("vote does not exist")
	}
	t.ID = s.nextID()
	t.CreatedAt = s.clock.Now()
	s.tokens[t.ID] = t
	return nil
}

func (vs voteStore) LatestToken(_ context.Context, voteID int64) (model.ValidationToken, error) {
	tokens := vs.s.Tokens(voteID)
	if len(tokens) == 0 {
		return model.ValidationToken{}, repo.ErrNotFound
	}
	return tokens[len(tokens)-1], nil
}

func (vs voteStore) LiveTokenCount(_ context.Context, voteID int64, now time.Time) (int, error) {
	vs.s.mu.Lock()
	defer vs.s.mu.Unlock()
	return vs.s.liveTokens(voteID, now), nil
}

func (vs voteStore) FindUsableToken(_ context.Context, voteID int64, code string, now time.Time) (model.ValidationToken, error) {
	s := vs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *model.ValidationToken
	for _, t := range s.tokens {
		if t.VoteID == voteID && t.Code == code && t.Live(now) {
			if found == nil || t.ID > found.ID {
				t := t
				found = &t
			}
		}
	}
	if found == nil {
		return model.ValidationToken{}, repo.ErrNotFound
	}
	return *found, nil
}

func (vs voteStore) Confirm(_ context.Context, voteID, tokenID int64, now time.Time) error {
	s := vs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.votes[voteID]
	if !ok || v.Validated {
		return repo.ErrStateChanged
	}
	t, ok := s.tokens[tokenID]
	if !ok || t.VoteID != voteID || !t.Live(now) {
		return repo.ErrStateChanged
	}
	v.Validated = true
	t.Used = true
	s.votes[voteID] = v
	s.tokens[tokenID] = t
	return nil
}

func (vs voteStore) DeletePending(_ context.Context, voteID int64) error {
	s := vs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.votes[voteID]
	if !ok || v.Validated {
		return repo.ErrNotFound
	}
	s.deleteVote(voteID)
	return nil
}

func (s *Store) validatedTotal(pollID int64) int {
	n := 0
	for _, v := range s.votes {
		if v.PollID == pollID && v.Validated {
			n++
		}
	}
	return n
}

func (vs voteStore) History(_ context.Context, userID int64) ([]model.HistoryEntry, error) {
	s := vs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var votes []model.Vote
	for _, v := range s.votes {
		if v.UserID == userID && v.Validated {
			votes = append(votes, v)
		}
	}
	sort.Slice(votes, func(i, j int) bool {
		if !votes[i].CreatedAt.Equal(votes[j].CreatedAt) {
			return votes[i].CreatedAt.After(votes[j].CreatedAt)
		}
		return votes[i].ID > votes[j].ID
	})
	entries := []model.HistoryEntry{}
	for _, v := range votes {
		p := s.polls[v.PollID]
		entries = append(entries, model.HistoryEntry{
			VoteID:     v.ID,
			VotedAt:    v.CreatedAt,
			OptionID:   v.OptionID,
			PollID:     p.ID,
			Title:      p.Title,
			Start:      p.Start,
			End:        p.End,
			TotalVotes: s.validatedTotal(p.ID),
		})
	}
	return entries, nil
}

func (vs voteStore) OptionCounts(_ context.Context, pollID int64) ([]model.OptionCount, error) {
	s := vs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := []model.OptionCount{}
	for _, o := range s.optionsOf(pollID) {
		c := model.OptionCount{Option: o}
		for _, v := range s.votes {
			if v.OptionID == o.ID && v.Validated {
				c.Count++
			}
		}
		counts = append(counts, c)
	}
	return counts, nil
}
