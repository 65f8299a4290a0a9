package model

import "time"

// PollStatus is the time-derived state of a poll
type PollStatus string

const (
	PollUpcoming PollStatus = "a_venir"
	PollOpen     PollStatus = "ouvert"
	PollClosed   PollStatus = "ferme"
)

// ClassifyPoll returns the status of a poll at now:
// upcoming iff now < start, open iff start <= now < end, closed iff now >= end.
func ClassifyPoll(p Poll, now time.Time) PollStatus {
	switch {
	case now.Before(p.Start):
		return PollUpcoming
	case now.Before(p.End):
		return PollOpen
	default:
		return PollClosed
	}
}

// VoteState is the lifecycle state of a (poll, user) pair
type VoteState string

const (
	VoteNone      VoteState = "aucun"
	VotePending   VoteState = "en_attente"
	VoteValidated VoteState = "valide"
)

// ClassifyVote returns the state for an optional vote row.
func ClassifyVote(v *Vote) VoteState {
	switch {
	case v == nil:
		return VoteNone
	case v.Validated:
		return VoteValidated
	default:
		return VotePending
	}
}
