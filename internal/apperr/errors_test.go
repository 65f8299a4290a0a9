package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(NotFound, "Sondage non trouvé")
	wrapped := fmt.Errorf("get poll: %w", err)

	assert.Equal(t, NotFound, KindOf(wrapped))
	assert.True(t, Is(wrapped, NotFound))
	assert.False(t, Is(wrapped, Conflict))
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("smtp down")
	err := Wrap(Internal, "Erreur lors de l'envoi", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Status(Validation))
	assert.Equal(t, http.StatusBadRequest, Status(Conflict))
	assert.Equal(t, http.StatusUnauthorized, Status(Unauthorized))
	assert.Equal(t, http.StatusForbidden, Status(Forbidden))
	assert.Equal(t, http.StatusNotFound, Status(NotFound))
	assert.Equal(t, http.StatusInternalServerError, Status(Internal))
}

func TestInvalidFields(t *testing.T) {
	err := Invalid("Données invalides", FieldError{Field: "titre", Message: "requis"})
	assert.Equal(t, Validation, err.Kind)
	assert.Len(t, err.Fields, 1)
}
