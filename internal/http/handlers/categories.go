package handlers

import (
	"net/http"

	"github.com/opina/server/internal/category"
	"github.com/opina/server/internal/model"
)

// CategoryHandler handles category endpoints
type CategoryHandler struct {
	categories *category.Service
}

// NewCategoryHandler creates a new category handler
func NewCategoryHandler(categories *category.Service) *CategoryHandler {
	return &CategoryHandler{categories: categories}
}

// CreateCategoryRequest is the payload of category creation
type CreateCategoryRequest struct {
	Name        string  `json:"nom" validate:"required,max=100"`
	Description *string `json:"description"`
	Color       string  `json:"couleur" validate:"omitempty,hexcolor,len=7"`
}

// UpdateCategoryRequest is a partial update; absent fields keep their value
type UpdateCategoryRequest struct {
	Name        *string `json:"nom" validate:"omitnil,min=1,max=100"`
	Description *string `json:"description"`
	Color       *string `json:"couleur" validate:"omitnil,hexcolor,len=7"`
}

type categoriesResponse struct {
	Categories []model.Category `json:"categories"`
}

type categoryResponse struct {
	Message  string         `json:"message,omitempty"`
	Category model.Category `json:"categorie"`
}

// List handles GET /categories
func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.categories.List(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Category{}
	}
	respondWithJSON(w, http.StatusOK, categoriesResponse{Categories: list})
}

// Get handles GET /categories/{id}
func (h *CategoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	c, err := h.categories.Get(r.Context(), id)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, categoryResponse{Category: c})
}

// Create handles POST /categories
func (h *CategoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	c, err := h.categories.Create(r.Context(), category.Input{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, categoryResponse{Message: "Catégorie créée avec succès", Category: c})
}

// Update handles PUT /categories/{id}
func (h *CategoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	var req UpdateCategoryRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	c, err := h.categories.Update(r.Context(), id, category.Patch{
		Name:        model.FromPtr(req.Name),
		Description: model.FromPtr(req.Description),
		Color:       model.FromPtr(req.Color),
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, categoryResponse{Message: "Catégorie modifiée avec succès", Category: c})
}

// Delete handles DELETE /categories/{id}
func (h *CategoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if err := h.categories.Delete(r.Context(), id); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, messageResponse{Message: "Catégorie supprimée avec succès"})
}
