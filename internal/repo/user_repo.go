package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opina/server/internal/model"
)

// Unique constraints of the utilisateurs table
const (
	ConstraintUserEmail = "utilisateurs_email_key"
	ConstraintUserPhone = "utilisateurs_numero_telephone_key"
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	Create(ctx context.Context, u model.User) (model.User, error)
	GetByID(ctx context.Context, id int64) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	List(ctx context.Context) ([]model.User, error)
	SetAdmin(ctx context.Context, id int64, isAdmin bool) (model.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	PhoneExists(ctx context.Context, phone string) (bool, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, nom, email, numero_telephone, mot_de_passe, methode_auth, est_admin, est_super_admin, date_creation`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	var method string
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Phone,
		&u.PasswordHash,
		&method,
		&u.IsAdmin,
		&u.IsSuperAdmin,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.AuthMethod = model.AuthMethod(method)
	return u, nil
}

// Create inserts a new user
func (r *userRepo) Create(ctx context.Context, u model.User) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO utilisateurs (nom, email, numero_telephone, mot_de_passe, methode_auth, est_admin, est_super_admin)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		u.Name, u.Email, u.Phone, u.PasswordHash, string(u.AuthMethod), u.IsAdmin, u.IsSuperAdmin,
	)
	created, err := scanUser(row)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to create user: %w", classify(err))
	}
	return created, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id int64) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM utilisateurs WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return model.User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// GetByEmail retrieves a user by e-mail address
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM utilisateurs WHERE email = $1`, email)
	u, err := scanUser(row)
	if err != nil {
		return model.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// List returns every user, newest first
func (r *userRepo) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM utilisateurs ORDER BY date_creation DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// SetAdmin updates the admin flag of a user
func (r *userRepo) SetAdmin(ctx context.Context, id int64, isAdmin bool) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE utilisateurs SET est_admin = $2 WHERE id = $1
		RETURNING `+userColumns, id, isAdmin)
	u, err := scanUser(row)
	if err != nil {
		return model.User{}, fmt.Errorf("set admin flag: %w", err)
	}
	return u, nil
}

// EmailExists reports whether an account uses the e-mail address
func (r *userRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM utilisateurs WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return exists, nil
}

// PhoneExists reports whether an account uses the phone number
func (r *userRepo) PhoneExists(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM utilisateurs WHERE numero_telephone = $1)`, phone).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check phone: %w", err)
	}
	return exists, nil
}
