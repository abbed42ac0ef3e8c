package users

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"eegportal.org/internal/auth"
)

var (
	admin  = auth.Identity{Email: "root@eeg.com", IsAdmin: true}
	member = auth.Identity{Email: "jane.doe@eeg.com"}
)

func newTestService(t *testing.T, store Store) (*Service, *auth.TokenService) {
	t.Helper()
	tokens, err := auth.NewTokenService("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return NewService(store, auth.NewBcryptHasher(4), tokens), tokens
}

func seedUser(t *testing.T, store Store, email string, files ...string) {
	t.Helper()
	hash, err := auth.NewBcryptHasher(4).Hash("Password!1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	err = store.Create(context.Background(), &User{
		ID:            "id-" + email,
		Email:         email,
		PasswordHash:  hash,
		FirstName:     "Jane",
		LastName:      "Doe",
		AssignedFiles: files,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", email, err)
	}
}

func TestProvisionCreatesUniqueAccount(t *testing.T) {
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	seedUser(t, store, "jane.doe@eeg.com")
	seedUser(t, store, "jane.doe1@eeg.com")

	creds, err := svc.Provision(ctx, admin, " Jane ", "Doe")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if creds.Email != "jane.doe2@eeg.com" {
		t.Fatalf("unexpected email %q", creds.Email)
	}

	stored, err := store.FindByEmail(ctx, creds.Email)
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if stored.IsAdmin {
		t.Fatal("provisioned user must not be admin")
	}
	if stored.PasswordHash == creds.Password {
		t.Fatal("password stored in plaintext")
	}
	if err := auth.NewBcryptHasher(4).Compare(stored.PasswordHash, creds.Password); err != nil {
		t.Fatalf("returned password does not match stored hash: %v", err)
	}
	if len(stored.AssignedFiles) != 0 {
		t.Fatalf("expected no assigned files, got %v", stored.AssignedFiles)
	}
}

func TestProvisionLowercasesAndStripsSpaces(t *testing.T) {
	svc, _ := newTestService(t, NewInMemory())
	creds, err := svc.Provision(context.Background(), admin, "Mary Ann", "VAN Dyke")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if creds.Email != "maryann.vandyke@eeg.com" {
		t.Fatalf("unexpected email %q", creds.Email)
	}
}

func TestProvisionHonoursDomain(t *testing.T) {
	store := NewInMemory()
	tokens, _ := auth.NewTokenService("s", time.Hour)
	svc := NewService(store, auth.NewBcryptHasher(4), tokens, WithEmailDomain("@Lab.Example.org"))
	creds, err := svc.Provision(context.Background(), admin, "Jane", "Doe")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if creds.Email != "jane.doe@lab.example.org" {
		t.Fatalf("unexpected email %q", creds.Email)
	}
}

func TestProvisionRejectsNonAdmin(t *testing.T) {
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	_, err := svc.Provision(context.Background(), member, "John", "Smith")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := store.FindByEmail(context.Background(), "john.smith@eeg.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("store changed by denied provision: %v", err)
	}
}

func TestProvisionRequiresNames(t *testing.T) {
	svc, _ := newTestService(t, NewInMemory())
	if _, err := svc.Provision(context.Background(), admin, "  ", "Doe"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

// conflictOnce simulates another request inserting the same email between
// the uniqueness lookup and the insert.
type conflictOnce struct {
	*InMemory
	fired bool
}

func (c *conflictOnce) Create(ctx context.Context, u *User) error {
	if !c.fired {
		c.fired = true
		racer := *u
		racer.ID = "racer"
		if err := c.InMemory.Create(ctx, &racer); err != nil {
			return err
		}
		return ErrConflict
	}
	return c.InMemory.Create(ctx, u)
}

func TestProvisionRetriesAfterInsertRace(t *testing.T) {
	store := &conflictOnce{InMemory: NewInMemory()}
	svc, _ := newTestService(t, store)
	creds, err := svc.Provision(context.Background(), admin, "Jane", "Doe")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if creds.Email != "jane.doe1@eeg.com" {
		t.Fatalf("expected retry to pick next suffix, got %q", creds.Email)
	}
}

type failingStore struct {
	*InMemory
	err error
}

func (f *failingStore) Create(ctx context.Context, u *User) error { return f.err }

func TestProvisionSurfacesStoreFailure(t *testing.T) {
	boom := errors.New("connection reset")
	svc, _ := newTestService(t, &failingStore{InMemory: NewInMemory(), err: boom})
	_, err := svc.Provision(context.Background(), admin, "Jane", "Doe")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestGeneratePasswordShape(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 200; i++ {
		pw, err := generatePassword(nil)
		if err != nil {
			t.Fatalf("generatePassword: %v", err)
		}
		if len(pw) != 10 {
			t.Fatalf("unexpected length %d for %q", len(pw), pw)
		}
		var lower, upper, special int
		for _, r := range pw {
			switch {
			case unicode.IsLower(r):
				lower++
			case unicode.IsUpper(r):
				upper++
			case strings.ContainsRune(specialCharacters, r):
				special++
			default:
				t.Fatalf("unexpected character %q in %q", r, pw)
			}
		}
		if lower != 8 || upper != 1 || special != 1 {
			t.Fatalf("unexpected composition of %q: %d/%d/%d", pw, lower, upper, special)
		}
		seen[pw] = struct{}{}
	}
	if len(seen) < 190 {
		t.Fatalf("passwords repeat too often: %d distinct of 200", len(seen))
	}
}

func TestProvisionUsesConfiguredRandomness(t *testing.T) {
	store := NewInMemory()
	tokens, _ := auth.NewTokenService("s", time.Hour)
	svc := NewService(store, auth.NewBcryptHasher(4), tokens, WithRandom(bytes.NewReader(make([]byte, 64))))

	// An all-zero source always picks index 0, so every shuffle step swaps
	// with the first position.
	creds, err := svc.Provision(context.Background(), admin, "Jane", "Doe")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if creds.Password != "aaaaaaaA!a" {
		t.Fatalf("unexpected password %q", creds.Password)
	}

	svc = NewService(store, auth.NewBcryptHasher(4), tokens, WithRandom(bytes.NewReader(nil)))
	if _, err := svc.Provision(context.Background(), admin, "John", "Smith"); err == nil {
		t.Fatal("expected error from exhausted randomness")
	}
	if _, err := store.FindByEmail(context.Background(), "john.smith@eeg.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed provision stored a user: %v", err)
	}
}

func TestProvisionGivesUpAfterMaxEmailSuffix(t *testing.T) {
	store := NewInMemory()
	tokens, _ := auth.NewTokenService("s", time.Hour)
	svc := NewService(store, auth.NewBcryptHasher(4), tokens, WithMaxEmailSuffix(1))
	seedUser(t, store, "jane.doe@eeg.com")
	seedUser(t, store, "jane.doe1@eeg.com")

	if _, err := svc.Provision(context.Background(), admin, "Jane", "Doe"); err == nil {
		t.Fatal("expected error when every suffix is taken")
	}
	if _, err := store.FindByEmail(context.Background(), "jane.doe2@eeg.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("suffix beyond limit was used: %v", err)
	}
}

func TestAssignIsIdempotent(t *testing.T) {
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	seedUser(t, store, "jane.doe@eeg.com")

	res, err := svc.Assign(ctx, admin, "jane.doe@eeg.com", []string{"fileA", "fileB"})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if !slices.Equal(res.Added, []string{"fileA", "fileB"}) {
		t.Fatalf("unexpected added: %v", res.Added)
	}

	_, err = svc.Assign(ctx, admin, "jane.doe@eeg.com", []string{"fileB", "fileA"})
	if !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}

	u, _ := store.FindByEmail(ctx, "jane.doe@eeg.com")
	if !slices.Equal(u.AssignedFiles, []string{"fileA", "fileB"}) {
		t.Fatalf("second assign mutated the list: %v", u.AssignedFiles)
	}
}

func TestAssignMergesPreservingOrder(t *testing.T) {
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	seedUser(t, store, "jane.doe@eeg.com")

	if _, err := svc.Assign(ctx, admin, "jane.doe@eeg.com", []string{"fileA", "fileB"}); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	res, err := svc.Assign(ctx, admin, "jane.doe@eeg.com", []string{"fileB", "fileC", " fileC ", ""})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if !slices.Equal(res.Added, []string{"fileC"}) {
		t.Fatalf("unexpected added: %v", res.Added)
	}
	if !slices.Equal(res.AssignedFiles, []string{"fileA", "fileB", "fileC"}) {
		t.Fatalf("unexpected assigned files: %v", res.AssignedFiles)
	}
}

func TestAssignErrors(t *testing.T) {
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	seedUser(t, store, "jane.doe@eeg.com")

	if _, err := svc.Assign(ctx, member, "jane.doe@eeg.com", []string{"x"}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if u, _ := store.FindByEmail(ctx, "jane.doe@eeg.com"); len(u.AssignedFiles) != 0 {
		t.Fatalf("denied assign mutated store: %v", u.AssignedFiles)
	}
	if _, err := svc.Assign(ctx, admin, "ghost@eeg.com", []string{"x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Assign(ctx, admin, "ghost@eeg.com", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown target with no files, got %v", err)
	}
	if _, err := svc.Assign(ctx, admin, "jane.doe@eeg.com", []string{" ", ""}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConcurrentAssignDoesNotLoseFiles(t *testing.T) {
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	seedUser(t, store, "jane.doe@eeg.com")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.Assign(ctx, admin, "jane.doe@eeg.com", []string{fmt.Sprintf("file-%d", i), "shared"})
		}(i)
	}
	wg.Wait()

	u, _ := store.FindByEmail(ctx, "jane.doe@eeg.com")
	if len(u.AssignedFiles) != 33 {
		t.Fatalf("expected 33 files, got %d: %v", len(u.AssignedFiles), u.AssignedFiles)
	}
}

func TestLogin(t *testing.T) {
	store := NewInMemory()
	svc, tokens := newTestService(t, store)
	ctx := context.Background()
	seedUser(t, store, "jane.doe@eeg.com")

	sess, err := svc.Login(ctx, "jane.doe@eeg.com", "Password!1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.Name != "Jane Doe" {
		t.Fatalf("unexpected name %q", sess.Name)
	}
	id, err := tokens.Verify(sess.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Email != "jane.doe@eeg.com" || id.IsAdmin {
		t.Fatalf("unexpected claims: %+v", id)
	}

	if _, err := svc.Login(ctx, "jane.doe@eeg.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@eeg.com", "Password!1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestRenewKeepsClaims(t *testing.T) {
	svc, tokens := newTestService(t, NewInMemory())
	sess, err := svc.Renew(admin)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	id, err := tokens.Verify(sess.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id != admin {
		t.Fatalf("renewed identity %+v, want %+v", id, admin)
	}
}

func TestCreateAdmin(t *testing.T) {
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	u, err := svc.CreateAdmin(ctx, "root@eeg.com", "changeme123", "Root", "")
	if err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if !u.IsAdmin {
		t.Fatal("expected admin flag")
	}
	if _, err := svc.CreateAdmin(ctx, "root@eeg.com", "changeme123", "", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := svc.CreateAdmin(ctx, "root", "changeme123", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.CreateAdmin(ctx, "x@eeg.com", "short", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
