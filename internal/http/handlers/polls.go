package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/opina/server/internal/apperr"
	"github.com/opina/server/internal/middleware"
	"github.com/opina/server/internal/model"
	"github.com/opina/server/internal/poll"
)

// PollHandler handles poll endpoints
type PollHandler struct {
	polls *poll.Service
}

// NewPollHandler creates a new poll handler
func NewPollHandler(polls *poll.Service) *PollHandler {
	return &PollHandler{polls: polls}
}

// CreatePollRequest represents the poll creation payload
type CreatePollRequest struct {
	Title       string   `json:"titre" validate:"required"`
	Description *string  `json:"description"`
	Options     []string `json:"options" validate:"required,min=2"`
	Start       string   `json:"date_debut" validate:"required"`
	End         string   `json:"date_fin" validate:"required"`
	CategoryID  int64    `json:"id_categorie" validate:"required"`
}

// UpdatePollRequest represents a partial poll update; absent fields are kept
type UpdatePollRequest struct {
	Title                 *string   `json:"titre"`
	Description           *string   `json:"description"`
	Options               *[]string `json:"options"`
	Start                 *string   `json:"date_debut"`
	End                   *string   `json:"date_fin"`
	CategoryID            *int64    `json:"id_categorie"`
	ConfirmReplaceOptions bool      `json:"confirmer_remplacement_options"`
}

type pollsResponse struct {
	Polls []model.Poll `json:"sondages"`
}

type pollResponse struct {
	Message string       `json:"message,omitempty"`
	Poll    *poll.Detail `json:"sondage"`
}

// ListOpen handles GET /sondages/ouverts
func (h *PollHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	var categoryID *int64
	if raw := r.URL.Query().Get("categorie"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Catégorie invalide")
			return
		}
		categoryID = &id
	}

	polls, err := h.polls.ListOpen(r.Context(), categoryID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithPolls(w, polls)
}

// ListAll handles GET /sondages
func (h *PollHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	polls, err := h.polls.ListAll(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithPolls(w, polls)
}

// Get handles GET /sondages/{id}. Identified callers also get their vote.
func (h *PollHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	var callerID *int64
	if caller, ok := middleware.GetIdentity(r.Context()); ok {
		callerID = &caller.ID
	}

	detail, err := h.polls.Get(r.Context(), id, callerID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pollResponse{Poll: detail})
}

// Create handles POST /sondages
func (h *PollHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePollRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	start, err := parseTime("date_debut", req.Start)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	end, err := parseTime("date_fin", req.End)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	caller, _ := middleware.GetIdentity(r.Context())
	detail, err := h.polls.Create(r.Context(), poll.Input{
		Title:       req.Title,
		Description: req.Description,
		Options:     req.Options,
		Start:       start,
		End:         end,
		CategoryID:  req.CategoryID,
		CreatorID:   caller.ID,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, pollResponse{Message: "Sondage créé avec succès", Poll: detail})
}

// Update handles PUT /sondages/{id}
func (h *PollHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	var req UpdatePollRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	patch := poll.Patch{
		Title:                 model.FromPtr(req.Title),
		Description:           model.FromPtr(req.Description),
		CategoryID:            model.FromPtr(req.CategoryID),
		Options:               model.FromPtr(req.Options),
		ConfirmReplaceOptions: req.ConfirmReplaceOptions,
	}
	if req.Start != nil {
		start, err := parseTime("date_debut", *req.Start)
		if err != nil {
			respondWithAppError(w, r, err)
			return
		}
		patch.Start = model.Some(start)
	}
	if req.End != nil {
		end, err := parseTime("date_fin", *req.End)
		if err != nil {
			respondWithAppError(w, r, err)
			return
		}
		patch.End = model.Some(end)
	}

	detail, err := h.polls.Update(r.Context(), id, patch)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pollResponse{Message: "Sondage modifié avec succès", Poll: detail})
}

// Delete handles DELETE /sondages/{id}
func (h *PollHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if err := h.polls.Delete(r.Context(), id); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, messageResponse{Message: "Sondage supprimé avec succès"})
}

func respondWithPolls(w http.ResponseWriter, polls []model.Poll) {
	if polls == nil {
		polls = []model.Poll{}
	}
	respondWithJSON(w, http.StatusOK, pollsResponse{Polls: polls})
}

// parseTime accepts RFC 3339 timestamps, with or without zone
func parseTime(field, value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	msg := "Date de début invalide"
	if field == "date_fin" {
		msg = "Date de fin invalide"
	}
	return time.Time{}, apperr.Invalid(msg, apperr.FieldError{Field: field, Message: msg})
}
