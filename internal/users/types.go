package users

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrConflict           = errors.New("user already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrAlreadyAssigned    = errors.New("files already assigned")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is an account that can log in and download the files assigned to it.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	IsAdmin       bool      `json:"isAdmin"`
	AssignedFiles []string  `json:"assignedFiles"`
	CreatedAt     time.Time `json:"createdAt"`
}

// DisplayName is the name returned to clients after login.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}

// HasFile reports whether name is among the user's assigned files.
func (u *User) HasFile(name string) bool {
	for _, f := range u.AssignedFiles {
		if f == name {
			return true
		}
	}
	return false
}

// Store persists users. Implementations must enforce email uniqueness on
// Create (returning ErrConflict) and make AppendAssignedFiles a single atomic
// merge so concurrent assignments cannot lose entries.
type Store interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// AppendAssignedFiles appends every name not yet assigned to the user,
	// preserving input order, and returns the names actually added together
	// with the resulting list. Unknown email yields ErrNotFound.
	AppendAssignedFiles(ctx context.Context, email string, names []string) (added []string, assigned []string, err error)
	Ping(ctx context.Context) error
}

// Credentials is the one-time result of provisioning an account.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Assignment describes the outcome of a successful file assignment.
type Assignment struct {
	Email         string   `json:"email"`
	Added         []string `json:"added"`
	AssignedFiles []string `json:"assignedFiles"`
}
