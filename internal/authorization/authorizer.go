package authorization

import (
	"context"
	"errors"

	"github.com/madcarpet/lessonadmin/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var ErrBadCredentials = errors.New("wrong login or password")

// Authorizer issues and verifies admin session tokens.
type Authorizer interface {
	ProduceToken(adminID string) (string, error)
	VerifyToken(ts string) (string, error)
}

func HashPassword(pwd string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func CheckPassword(hash, pwd string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pwd)); err != nil {
		return ErrBadCredentials
	}
	return nil
}

type AdminAdder interface {
	AddAdmin(ctx context.Context, a *models.Admin) (bool, error)
}

// SeedAdmin creates the bootstrap admin account. An existing login is left untouched.
func SeedAdmin(ctx context.Context, s AdminAdder, id, login, pwd string) (bool, error) {
	if login == "" || pwd == "" {
		return false, nil
	}
	hash, err := HashPassword(pwd)
	if err != nil {
		return false, err
	}
	return s.AddAdmin(ctx, &models.Admin{ID: id, Login: login, Password: hash})
}
