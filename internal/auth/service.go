package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/opina/server/internal/apperr"
	"github.com/opina/server/internal/model"
	"github.com/opina/server/internal/repo"
)

const (
	msgBadCredentials  = "Email ou mot de passe incorrect"
	msgPasswordTooLong = "Le mot de passe ne doit pas dépasser 72 octets"
)

// Registration is the input of Register
type Registration struct {
	Name     string
	Email    string
	Phone    *string
	Password string
}

// Session is a signed bearer credential and the user it was issued for
type Session struct {
	Token string
	User  model.User
}

// AuthService orchestrates account and credential operations
type AuthService struct {
	jwtService *JWTService
	userRepo   repo.UserRepo
}

// NewAuthService creates a new auth service
func NewAuthService(jwtService *JWTService, userRepo repo.UserRepo) *AuthService {
	return &AuthService{
		jwtService: jwtService,
		userRepo:   userRepo,
	}
}

// Register creates a local account and signs a credential for it
func (s *AuthService) Register(ctx context.Context, in Registration) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	taken, err := s.userRepo.EmailExists(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	if taken {
		return nil, apperr.New(apperr.Conflict, "Un utilisateur avec cet email existe déjà")
	}

	var phone *string
	if in.Phone != nil && strings.TrimSpace(*in.Phone) != "" {
		p := strings.TrimSpace(*in.Phone)
		phone = &p
		taken, err := s.userRepo.PhoneExists(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("register: %w", err)
		}
		if taken {
			return nil, apperr.New(apperr.Conflict, "Un utilisateur avec ce numéro de téléphone existe déjà")
		}
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, apperr.Invalid(msgPasswordTooLong, apperr.FieldError{Field: "mot_de_passe", Message: msgPasswordTooLong})
		}
		return nil, fmt.Errorf("register: %w", err)
	}

	user, err := s.userRepo.Create(ctx, model.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		Phone:        phone,
		PasswordHash: &hash,
		AuthMethod:   model.AuthLocal,
	})
	if err != nil {
		// lost a race against a concurrent registration
		switch repo.ConstraintOf(err) {
		case repo.ConstraintUserEmail:
			return nil, apperr.New(apperr.Conflict, "Un utilisateur avec cet email existe déjà")
		case repo.ConstraintUserPhone:
			return nil, apperr.New(apperr.Conflict, "Un utilisateur avec ce numéro de téléphone existe déjà")
		}
		return nil, fmt.Errorf("register: %w", err)
	}

	return s.issue(user)
}

// Login checks local credentials and signs a credential
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.New(apperr.Unauthorized, msgBadCredentials)
		}
		return nil, fmt.Errorf("login: %w", err)
	}
	if user.AuthMethod != model.AuthLocal || user.PasswordHash == nil || !CheckPassword(*user.PasswordHash, password) {
		return nil, apperr.New(apperr.Unauthorized, msgBadCredentials)
	}
	return s.issue(user)
}

// Me returns the current state of the authenticated user
func (s *AuthService) Me(ctx context.Context, userID int64) (model.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, apperr.New(apperr.Unauthorized, "Utilisateur non trouvé")
		}
		return model.User{}, fmt.Errorf("me: %w", err)
	}
	return user, nil
}

// ListUsers returns every account
func (s *AuthService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.userRepo.List(ctx)
}

// SetAdmin grants or revokes the admin role. A caller cannot change its own role.
func (s *AuthService) SetAdmin(ctx context.Context, caller Identity, userID int64, isAdmin bool) (model.User, error) {
	if caller.ID == userID {
		return model.User{}, apperr.New(apperr.Forbidden, "Impossible de modifier son propre rôle")
	}
	user, err := s.userRepo.SetAdmin(ctx, userID, isAdmin)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, apperr.New(apperr.NotFound, "Utilisateur non trouvé")
		}
		return model.User{}, fmt.Errorf("set admin: %w", err)
	}
	return user, nil
}

func (s *AuthService) issue(user model.User) (*Session, error) {
	token, err := s.jwtService.Sign(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &Session{Token: token, User: user}, nil
}
