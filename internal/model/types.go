package model

import (
	"time"
)

// AuthMethod is how a user authenticates
type AuthMethod string

const (
	AuthLocal  AuthMethod = "local"
	AuthGoogle AuthMethod = "google"
	AuthApple  AuthMethod = "apple"
)

// Channel is the delivery channel of a validation code
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// User represents a registered account
type User struct {
	ID           int64      `json:"id"`
	Name         string     `json:"nom"`
	Email        string     `json:"email"`
	Phone        *string    `json:"numero_telephone,omitempty"`
	PasswordHash *string    `json:"-"`
	AuthMethod   AuthMethod `json:"methode_auth"`
	IsAdmin      bool       `json:"est_admin"`
	IsSuperAdmin bool       `json:"est_super_admin"`
	CreatedAt    time.Time  `json:"date_creation"`
}

// Category groups polls
type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"nom"`
	Description *string   `json:"description"`
	Color       string    `json:"couleur"`
	CreatedAt   time.Time `json:"date_creation"`
}

// CategoryRef is the category summary embedded in polls
type CategoryRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"nom"`
	Color string `json:"couleur"`
}

// Poll is a time-windowed question. Status is never stored; it is derived
// from Start and End by ClassifyPoll.
type Poll struct {
	ID             int64        `json:"id"`
	Title          string       `json:"titre"`
	Description    *string      `json:"description"`
	CreatorID      int64        `json:"id_createur"`
	CreatorName    string       `json:"nom_createur"`
	Category       *CategoryRef `json:"categorie"`
	Start          time.Time    `json:"date_debut"`
	End            time.Time    `json:"date_fin"`
	CreatedAt      time.Time    `json:"date_creation"`
	UpdatedAt      time.Time    `json:"date_modification"`
	ValidatedVotes int          `json:"nombre_votes"`
	Status         PollStatus   `json:"statut"`
}

// CategoryID returns the referenced category id, or nil.
func (p Poll) CategoryID() *int64 {
	if p.Category == nil {
		return nil
	}
	id := p.Category.ID
	return &id
}

// Option is one choice of a poll; Order is 0-based and unique within the poll
type Option struct {
	ID          int64   `json:"id"`
	PollID      int64   `json:"id_sondage"`
	Text        string  `json:"texte"`
	Description *string `json:"description"`
	Order       int     `json:"ordre"`
}

// NewOption is an option to be inserted; its order is its index in the input
type NewOption struct {
	Text        string
	Description *string
}

// Vote is one user's choice on a poll. At most one exists per (poll, user).
type Vote struct {
	ID        int64     `json:"id"`
	PollID    int64     `json:"id_sondage"`
	UserID    int64     `json:"id_utilisateur"`
	OptionID  int64     `json:"id_option"`
	Validated bool      `json:"est_valide"`
	CreatedAt time.Time `json:"date_vote"`
}

// ValidationToken is a one-time code that finalizes a vote
type ValidationToken struct {
	ID        int64
	VoteID    int64
	Code      string
	Channel   Channel
	Used      bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Live reports whether the token can still be consumed at now.
func (t ValidationToken) Live(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}
