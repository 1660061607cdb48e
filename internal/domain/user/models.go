package user

import (
	"errors"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

// User is the ownership root. Every connection, source record and ledger
// entry belongs to exactly one user.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CreateUserParams struct {
	Email string
	Name  string
}

func (p CreateUserParams) Validate() error {
	if p.Email == "" {
		return errors.New("email is required")
	}
	return nil
}
