package service

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"deepchat/model"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Registration is the register request payload.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserService handles local account registration and login. Accounts
// provisioned by identity events carry no password; registering with
// their email completes the record instead of conflicting.
type UserService struct {
	db     *gorm.DB
	tokens *TokenService
}

func NewUserService(db *gorm.DB, tokens *TokenService) *UserService {
	return &UserService{db: db, tokens: tokens}
}

func (s *UserService) Register(reg Registration) (*model.User, error) {
	email := strings.TrimSpace(reg.Email)
	if !emailRegex.MatchString(email) {
		return nil, model.E(model.KindInvalidInput, "a valid email is required")
	}
	if len(reg.Password) < 8 {
		return nil, model.E(model.KindInvalidInput, "password must be at least 8 characters")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, model.WrapE(model.KindPersistenceFailed, "failed to hash password", err)
	}

	var user model.User
	err = s.db.Where("email = ?", email).First(&user).Error
	switch {
	case err == nil:
		if user.Password != "" {
			return nil, model.E(model.KindConflict, "email already registered")
		}
		// identity-provisioned account; attach the local credentials
		user.Password = string(hashed)
		if user.Name == "" {
			user.Name = strings.TrimSpace(reg.Name)
		}
		if err := s.db.Save(&user).Error; err != nil {
			return nil, model.WrapE(model.KindPersistenceFailed, "failed to update user", err)
		}
		return &user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = model.User{
			Email:    email,
			Name:     strings.TrimSpace(reg.Name),
			Password: string(hashed),
		}
		if err := s.db.Create(&user).Error; err != nil {
			// a concurrent registration can win the unique-email race
			// between the lookup and the insert
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, model.E(model.KindConflict, "email already registered")
			}
			return nil, model.WrapE(model.KindPersistenceFailed, "failed to create user", err)
		}
		return &user, nil
	default:
		return nil, model.WrapE(model.KindPersistenceFailed, "failed to look up user", err)
	}
}

func (s *UserService) Login(email, password string) (string, error) {
	var user model.User
	if err := s.db.Where("email = ?", strings.TrimSpace(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", model.E(model.KindUnauthenticated, "invalid credentials")
		}
		return "", model.WrapE(model.KindPersistenceFailed, "failed to look up user", err)
	}
	if user.Password == "" {
		return "", model.E(model.KindUnauthenticated, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", model.E(model.KindUnauthenticated, "invalid credentials")
	}

	td, err := s.tokens.CreateToken(user.ID, user.Email)
	if err != nil {
		return "", model.WrapE(model.KindPersistenceFailed, "failed to generate token", err)
	}
	return td.AccessToken, nil
}
