package model

import "time"

// OptionCount is the raw number of validated votes of an option
type OptionCount struct {
	Option Option
	Count  int
}

// OptionStat is an option with its share of the validated votes
type OptionStat struct {
	ID          int64   `json:"id"`
	Text        string  `json:"texte"`
	Description *string `json:"description"`
	Order       int     `json:"ordre"`
	Count       int     `json:"nombre_votes"`
	Percentage  float64 `json:"pourcentage"`
	Winner      bool    `json:"gagnant"`
}

// PollSummary is the poll header of statistics responses
type PollSummary struct {
	ID          int64     `json:"id"`
	Title       string    `json:"titre"`
	Description *string   `json:"description"`
	Start       time.Time `json:"date_debut"`
	End         time.Time `json:"date_fin"`
}

// Statistics is the per-option breakdown of a closed poll
type Statistics struct {
	Poll    PollSummary  `json:"sondage"`
	Total   int          `json:"total_votes"`
	Options []OptionStat `json:"statistiques"`
	Winners []int64      `json:"gagnants"`
}

// HistoryEntry is one validated vote of a user with the poll's breakdown
type HistoryEntry struct {
	VoteID     int64        `json:"id"`
	VotedAt    time.Time    `json:"date_vote"`
	OptionID   int64        `json:"option_votee_id"`
	PollID     int64        `json:"id_sondage"`
	Title      string       `json:"titre"`
	Start      time.Time    `json:"date_debut"`
	End        time.Time    `json:"date_fin"`
	TotalVotes int          `json:"nombre_votes_total"`
	Options    []OptionStat `json:"options"`
}
