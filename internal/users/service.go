package users

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"eegportal.org/internal/auth"
	"eegportal.org/internal/ids"
)

const (
	// DefaultEmailDomain is the domain of generated account emails.
	DefaultEmailDomain = "eeg.com"

	defaultMaxEmailSuffix = 10000
	defaultCreateAttempts = 3
)

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// TokenIssuer signs identity tokens.
type TokenIssuer interface {
	Issue(id auth.Identity) (string, time.Time, error)
}

// Service implements account provisioning, file assignment and login.
type Service struct {
	store          Store
	hasher         PasswordHasher
	tokens         TokenIssuer
	domain         string
	random         io.Reader
	now            func() time.Time
	maxEmailSuffix int
	createAttempts int
}

// Option configures a Service.
type Option func(*Service)

// WithEmailDomain sets the domain used for generated emails.
func WithEmailDomain(domain string) Option {
	return func(s *Service) {
		if domain = strings.TrimSpace(strings.TrimPrefix(domain, "@")); domain != "" {
			s.domain = strings.ToLower(domain)
		}
	}
}

// WithRandom replaces the randomness source of the password generator.
func WithRandom(r io.Reader) Option {
	return func(s *Service) {
		if r != nil {
			s.random = r
		}
	}
}

// WithClock replaces the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxEmailSuffix bounds the numeric suffix search for a free email.
func WithMaxEmailSuffix(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxEmailSuffix = n
		}
	}
}

// NewService wires a Service to its collaborators.
func NewService(store Store, hasher PasswordHasher, tokens TokenIssuer, opts ...Option) *Service {
	s := &Service{
		store:          store,
		hasher:         hasher,
		tokens:         tokens,
		domain:         DefaultEmailDomain,
		now:            time.Now,
		maxEmailSuffix: defaultMaxEmailSuffix,
		createAttempts: defaultCreateAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provision creates a non-admin account for firstName lastName and returns the
// generated email together with the plaintext password. The password is not
// retained anywhere; this is the only time it is available.
func (s *Service) Provision(ctx context.Context, requester auth.Identity, firstName, lastName string) (Credentials, error) {
	if !requester.IsAdmin {
		return Credentials{}, ErrPermissionDenied
	}
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		return Credentials{}, fmt.Errorf("%w: firstName and lastName are required", ErrInvalidInput)
	}

	password, err := generatePassword(s.random)
	if err != nil {
		return Credentials{}, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return Credentials{}, err
	}

	local := emailLocalPart(firstName, lastName)
	for attempt := 0; attempt < s.createAttempts; attempt++ {
		email, err := s.freeEmail(ctx, local)
		if err != nil {
			return Credentials{}, err
		}
		u := &User{
			ID:            ids.New(),
			Email:         email,
			PasswordHash:  hash,
			FirstName:     firstName,
			LastName:      lastName,
			AssignedFiles: []string{},
			CreatedAt:     s.now().UTC(),
		}
		err = s.store.Create(ctx, u)
		if errors.Is(err, ErrConflict) {
			// Another request claimed the address between lookup and insert.
			continue
		}
		if err != nil {
			return Credentials{}, fmt.Errorf("create user: %w", err)
		}
		return Credentials{Email: email, Password: password}, nil
	}
	return Credentials{}, fmt.Errorf("create user %s: %w", local, ErrConflict)
}

func (s *Service) freeEmail(ctx context.Context, local string) (string, error) {
	for n := 0; n <= s.maxEmailSuffix; n++ {
		candidate := candidateEmail(local, s.domain, n)
		_, err := s.store.FindByEmail(ctx, candidate)
		if errors.Is(err, ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("lookup %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("no free email for %s within %d suffixes", local, s.maxEmailSuffix)
}

// Assign merges names into the target user's assigned files. An unknown target
// is reported before an empty name list. Names already assigned are skipped;
// if nothing new remains ErrAlreadyAssigned is returned and the user is left
// untouched.
func (s *Service) Assign(ctx context.Context, requester auth.Identity, targetEmail string, names []string) (Assignment, error) {
	if !requester.IsAdmin {
		return Assignment{}, ErrPermissionDenied
	}
	targetEmail = strings.TrimSpace(targetEmail)
	if targetEmail == "" {
		return Assignment{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if _, err := s.store.FindByEmail(ctx, targetEmail); err != nil {
		return Assignment{}, err
	}
	names = normalizeNames(names)
	if len(names) == 0 {
		return Assignment{}, fmt.Errorf("%w: at least one file is required", ErrInvalidInput)
	}

	added, assigned, err := s.store.AppendAssignedFiles(ctx, targetEmail, names)
	if err != nil {
		return Assignment{}, err
	}
	if len(added) == 0 {
		return Assignment{}, ErrAlreadyAssigned
	}
	return Assignment{Email: targetEmail, Added: added, AssignedFiles: assigned}, nil
}

// normalizeNames trims names, drops blanks and keeps the first occurrence of duplicates.
func normalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// MergeNew returns the names not present in existing, in input order. Stores
// call it inside their own atomic section.
func MergeNew(existing, names []string) []string {
	have := make(map[string]struct{}, len(existing))
	for _, n := range existing {
		have[n] = struct{}{}
	}
	var added []string
	for _, n := range names {
		if _, ok := have[n]; ok {
			continue
		}
		have[n] = struct{}{}
		added = append(added, n)
	}
	return added
}

// Session is the result of a successful login or renewal.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Name      string
	Identity  auth.Identity
}

// Login checks the password of the user with the given email and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	u, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("compare password: %w", err)
	}

	id := auth.Identity{Email: u.Email, IsAdmin: u.IsAdmin}
	token, exp, err := s.tokens.Issue(id)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp, Name: u.DisplayName(), Identity: id}, nil
}

// Renew issues a fresh token carrying the same claims as the caller's.
func (s *Service) Renew(id auth.Identity) (Session, error) {
	token, exp, err := s.tokens.Issue(id)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp, Identity: id}, nil
}

// Profile returns the stored user behind an identity.
func (s *Service) Profile(ctx context.Context, id auth.Identity) (*User, error) {
	return s.User(ctx, id.Email)
}

// User looks up an account by email.
func (s *Service) User(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrNotFound
	}
	return s.store.FindByEmail(ctx, email)
}

// CreateAdmin inserts an administrator with a caller-chosen email and password.
// It backs the seed command; there is no HTTP route for it.
func (s *Service) CreateAdmin(ctx context.Context, email, password, firstName, lastName string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:            ids.New(),
		Email:         email,
		PasswordHash:  hash,
		FirstName:     strings.TrimSpace(firstName),
		LastName:      strings.TrimSpace(lastName),
		IsAdmin:       true,
		AssignedFiles: []string{},
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
