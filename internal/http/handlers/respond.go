package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opina/server/internal/apperr"
)

const msgInternal = "Erreur interne du serveur"

type errorResponse struct {
	Erreur  string              `json:"erreur"`
	Erreurs []apperr.FieldError `json:"erreurs,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// respondWithJSON sends v as a JSON response
func respondWithJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, errorResponse{Erreur: message})
}

// respondWithAppError maps err to its status code. Unexpected errors are
// logged and answered with a generic message.
func respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		respondWithError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if appErr.Kind == apperr.Internal {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	respondWithJSON(w, apperr.Status(appErr.Kind), errorResponse{Erreur: appErr.Message, Erreurs: appErr.Fields})
}

// pathID parses a numeric URL parameter
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.Validation, "Identifiant invalide")
	}
	return id, nil
}
