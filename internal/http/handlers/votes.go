package handlers

import (
	"net/http"

	"github.com/opina/server/internal/middleware"
	"github.com/opina/server/internal/model"
	"github.com/opina/server/internal/vote"
)

// VoteHandler handles the vote workflow endpoints
type VoteHandler struct {
	votes *vote.Service
}

// NewVoteHandler creates a new vote handler
func NewVoteHandler(votes *vote.Service) *VoteHandler {
	return &VoteHandler{votes: votes}
}

// CastVoteRequest represents the vote payload
type CastVoteRequest struct {
	PollID   int64  `json:"id_sondage" validate:"required"`
	OptionID int64  `json:"id_option" validate:"required"`
	Channel  string `json:"type_validation" validate:"required,oneof=email sms"`
}

// ConfirmVoteRequest represents the vote validation payload
type ConfirmVoteRequest struct {
	VoteID int64  `json:"id_vote" validate:"required"`
	Code   string `json:"code" validate:"required,len=6,numeric"`
}

type historyResponse struct {
	History []model.HistoryEntry `json:"historique"`
}

// Cast handles POST /votes
func (h *VoteHandler) Cast(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetIdentity(r.Context())
	if caller.IsAdmin {
		respondWithAppError(w, r, vote.ErrAdminVote)
		return
	}

	var req CastVoteRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	pending, err := h.votes.Cast(r.Context(), vote.CastInput{
		PollID:   req.PollID,
		OptionID: req.OptionID,
		Channel:  model.Channel(req.Channel),
		UserID:   caller.ID,
		IsAdmin:  caller.IsAdmin,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, pending)
}

// Confirm handles POST /votes/valider
func (h *VoteHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmVoteRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	caller, _ := middleware.GetIdentity(r.Context())
	if err := h.votes.Confirm(r.Context(), req.VoteID, req.Code, caller.ID); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, messageResponse{Message: "Vote validé avec succès"})
}

// Resend handles POST /votes/{id}/renvoyer
func (h *VoteHandler) Resend(w http.ResponseWriter, r *http.Request) {
	voteID, err := pathID(r, "id")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	caller, _ := middleware.GetIdentity(r.Context())
	pending, err := h.votes.Resend(r.Context(), voteID, caller.ID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pending)
}

// History handles GET /votes/historique
func (h *VoteHandler) History(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetIdentity(r.Context())
	entries, err := h.votes.History(r.Context(), caller.ID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	respondWithJSON(w, http.StatusOK, historyResponse{History: entries})
}
