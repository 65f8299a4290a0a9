// Package category manages the tags used to group polls.
package category

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/opina/server/internal/apperr"
	"github.com/opina/server/internal/model"
	"github.com/opina/server/internal/repo"
)

// DefaultColor is used when a category is created without colour
const DefaultColor = "#3B82F6"

const (
	msgNotFound  = "Catégorie non trouvée"
	msgNameTaken = "Une catégorie avec ce nom existe déjà"
	msgBadColor  = "Couleur invalide (format: #RRGGBB)"
)

var validate = validator.New()

// record holds the rules a stored category must satisfy
type record struct {
	Name  string `validate:"required,max=100"`
	Color string `validate:"required,hexcolor,len=7"`
}

// Input is the payload of Create
type Input struct {
	Name        string
	Description *string
	Color       string
}

// Patch lists the fields of an update; absent fields keep their value and an
// empty Description clears it
type Patch struct {
	Name        model.Optional[string]
	Description model.Optional[string]
	Color       model.Optional[string]
}

// Service implements category management
type Service struct {
	categories repo.CategoryRepo
}

// NewService creates a category service
func NewService(categories repo.CategoryRepo) *Service {
	return &Service{categories: categories}
}

func (s *Service) List(ctx context.Context) ([]model.Category, error) {
	return s.categories.List(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (model.Category, error) {
	c, err := s.categories.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Category{}, apperr.New(apperr.NotFound, msgNotFound)
		}
		return model.Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

// Create adds a category with a unique name
func (s *Service) Create(ctx context.Context, in Input) (model.Category, error) {
	c := model.Category{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Color:       in.Color,
	}
	if c.Color == "" {
		c.Color = DefaultColor
	}
	if err := check(c); err != nil {
		return model.Category{}, err
	}

	taken, err := s.categories.NameTaken(ctx, c.Name, 0)
	if err != nil {
		return model.Category{}, fmt.Errorf("create category: %w", err)
	}
	if taken {
		return model.Category{}, apperr.New(apperr.Conflict, msgNameTaken)
	}

	created, err := s.categories.Create(ctx, c)
	if err != nil {
		if repo.ConstraintOf(err) == repo.ConstraintCategoryName {
			return model.Category{}, apperr.New(apperr.Conflict, msgNameTaken)
		}
		return model.Category{}, fmt.Errorf("create category: %w", err)
	}
	return created, nil
}

// Update merges the patch into the stored category
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (model.Category, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return model.Category{}, err
	}

	if name, ok := patch.Name.Get(); ok {
		c.Name = strings.TrimSpace(name)
	}
	if desc, ok := patch.Description.Get(); ok {
		c.Description = nil
		if desc != "" {
			c.Description = &desc
		}
	}
	c.Color = patch.Color.Or(c.Color)
	if err := check(c); err != nil {
		return model.Category{}, err
	}

	if patch.Name.IsSet() {
		taken, err := s.categories.NameTaken(ctx, c.Name, c.ID)
		if err != nil {
			return model.Category{}, fmt.Errorf("update category: %w", err)
		}
		if taken {
			return model.Category{}, apperr.New(apperr.Conflict, msgNameTaken)
		}
	}

	updated, err := s.categories.Update(ctx, c)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return model.Category{}, apperr.New(apperr.NotFound, msgNotFound)
		case repo.ConstraintOf(err) == repo.ConstraintCategoryName:
			return model.Category{}, apperr.New(apperr.Conflict, msgNameTaken)
		}
		return model.Category{}, fmt.Errorf("update category: %w", err)
	}
	return updated, nil
}

// Delete removes a category no poll refers to
func (s *Service) Delete(ctx context.Context, id int64) error {
	n, err := s.categories.CountPolls(ctx, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n > 0 {
		return apperr.New(apperr.Validation, fmt.Sprintf("Impossible de supprimer cette catégorie car %d sondage(s) l'utilisent", n))
	}

	if err := s.categories.Delete(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.New(apperr.NotFound, msgNotFound)
		}
		return fmt.Errorf("delete category: %w", err)
	}
	return nil
}

func check(c model.Category) error {
	err := validate.Struct(record{Name: c.Name, Color: c.Color})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate category: %w", err)
	}

	var fields []apperr.FieldError
	for _, fe := range verrs {
		switch fe.Field() {
		case "Name":
			msg := "Le nom est requis"
			if fe.Tag() == "max" {
				msg = "Le nom ne doit pas dépasser 100 caractères"
			}
			fields = append(fields, apperr.FieldError{Field: "nom", Message: msg})
		case "Color":
			fields = append(fields, apperr.FieldError{Field: "couleur", Message: msgBadColor})
		}
	}
	return apperr.Invalid("Données invalides", fields...)
}
