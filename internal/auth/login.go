package auth

import (
	"errors"
	"time"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Operator authenticates the single operator account configured by an
// argon2id hash.
type Operator struct {
	username     string
	passwordHash string
	hasher       *PasswordHasher
	jwt          *JWTHandler
}

func NewOperator(username, passwordHash string, jwt *JWTHandler) *Operator {
	if username == "" {
		username = RoleOperator
	}
	return &Operator{
		username:     username,
		passwordHash: passwordHash,
		hasher:       NewPasswordHasher(),
		jwt:          jwt,
	}
}

func (o *Operator) Login(username, password string) (string, time.Time, error) {
	if username != o.username || o.passwordHash == "" {
		return "", time.Time{}, ErrInvalidCredentials
	}

	valid, err := o.hasher.VerifyPassword(password, o.passwordHash)
	if err != nil || !valid {
		return "", time.Time{}, ErrInvalidCredentials
	}

	return o.jwt.GenerateAccessToken(o.username, RoleOperator)
}
