package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opina/server/internal/model"
)

// ConstraintCategoryName is the unique constraint on category names
const ConstraintCategoryName = "categories_nom_key"

// CategoryRepo defines the interface for category repository operations
type CategoryRepo interface {
	List(ctx context.Context) ([]model.Category, error)
	GetByID(ctx context.Context, id int64) (model.Category, error)
	Exists(ctx context.Context, id int64) (bool, error)
	NameTaken(ctx context.Context, name string, exceptID int64) (bool, error)
	Create(ctx context.Context, c model.Category) (model.Category, error)
	Update(ctx context.Context, c model.Category) (model.Category, error)
	Delete(ctx context.Context, id int64) error
	CountPolls(ctx context.Context, id int64) (int, error)
}

type categoryRepo struct {
	db *sql.DB
}

// NewCategoryRepo creates a new CategoryRepo instance
func NewCategoryRepo(db *sql.DB) CategoryRepo {
	return &categoryRepo{db: db}
}

const categoryColumns = `id, nom, description, couleur, date_creation`

func scanCategory(row interface{ Scan(...any) error }) (model.Category, error) {
	var c model.Category
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Color, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Category{}, ErrNotFound
		}
		return model.Category{}, fmt.Errorf("scan category: %w", err)
	}
	return c, nil
}

// List returns all categories ordered by name
func (r *categoryRepo) List(ctx context.Context) ([]model.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY nom ASC`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []model.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// GetByID retrieves a category
func (r *categoryRepo) GetByID(ctx context.Context, id int64) (model.Category, error) {
	c, err := scanCategory(r.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id))
	if err != nil {
		return model.Category{}, fmt.Errorf("get category %d: %w", id, err)
	}
	return c, nil
}

// Exists reports whether the category exists
func (r *categoryRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check category: %w", err)
	}
	return exists, nil
}

// NameTaken reports whether another category (id != exceptID) uses name
func (r *categoryRepo) NameTaken(ctx context.Context, name string, exceptID int64) (bool, error) {
	var taken bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM categories WHERE nom = $1 AND id <> $2)`, name, exceptID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check category name: %w", err)
	}
	return taken, nil
}

// Create inserts a category
func (r *categoryRepo) Create(ctx context.Context, c model.Category) (model.Category, error) {
	created, err := scanCategory(r.db.QueryRowContext(ctx, `
		INSERT INTO categories (nom, description, couleur)
		VALUES ($1, $2, $3)
		RETURNING `+categoryColumns, c.Name, c.Description, c.Color))
	if err != nil {
		return model.Category{}, fmt.Errorf("create category: %w", classify(err))
	}
	return created, nil
}

// Update writes every column of the category
func (r *categoryRepo) Update(ctx context.Context, c model.Category) (model.Category, error) {
	updated, err := scanCategory(r.db.QueryRowContext(ctx, `
		UPDATE categories SET nom = $2, description = $3, couleur = $4
		WHERE id = $1
		RETURNING `+categoryColumns, c.ID, c.Name, c.Description, c.Color))
	if err != nil {
		return model.Category{}, fmt.Errorf("update category: %w", classify(err))
	}
	return updated, nil
}

// Delete removes a category
func (r *categoryRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPolls returns how many polls reference the category
func (r *categoryRepo) CountPolls(ctx context.Context, id int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sondages WHERE id_categorie = $1`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count polls of category: %w", err)
	}
	return count, nil
}
