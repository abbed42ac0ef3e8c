package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"eegportal.org/internal/users"
)

var _ users.Store = (*Users)(nil)

// Users stores accounts in the users table and their assignments in
// user_files, one row per (user, file name) ordered by seq.
type Users struct {
	db *sql.DB
}

func (s *Users) Create(ctx context.Context, u *users.User) error {
	if s.db == nil {
		return errNoDB
	}
	if u == nil || u.ID == "" || u.Email == "" {
		return users.ErrInvalidInput
	}
	return withTx(ctx, s.db, func(tx dbtx) error {
		_, err := tx.ExecContext(ctx, `
			insert into users (id, email, password_hash, first_name, last_name, is_admin, created_at)
			values ($1, $2, $3, $4, $5, $6, $7)
		`, u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.IsAdmin, u.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return users.ErrConflict
			}
			return err
		}
		for _, name := range u.AssignedFiles {
			if _, err := tx.ExecContext(ctx, `
				insert into user_files (user_id, file_name) values ($1, $2)
				on conflict (user_id, file_name) do nothing
			`, u.ID, name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Users) Find(ctx context.Context, id string) (*users.User, error) {
	return s.findOne(ctx, `
		select id, email, password_hash, first_name, last_name, is_admin, created_at
		from users where id = $1
	`, id)
}

func (s *Users) FindByEmail(ctx context.Context, email string) (*users.User, error) {
	return s.findOne(ctx, `
		select id, email, password_hash, first_name, last_name, is_admin, created_at
		from users where email = $1
	`, email)
}

func (s *Users) findOne(ctx context.Context, query string, arg string) (*users.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var u users.User
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, users.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	files, err := assignedFiles(ctx, s.db, u.ID)
	if err != nil {
		return nil, err
	}
	u.AssignedFiles = files
	return &u, nil
}

// AppendAssignedFiles locks the user row so concurrent merges for one user
// apply one after another, then relies on the (user_id, file_name) unique key
// to skip names that are already present.
func (s *Users) AppendAssignedFiles(ctx context.Context, email string, names []string) ([]string, []string, error) {
	if s.db == nil {
		return nil, nil, errNoDB
	}
	var added, assigned []string
	err := withTx(ctx, s.db, func(tx dbtx) error {
		var userID string
		err := tx.QueryRowContext(ctx, `select id from users where email = $1 for update`, email).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return users.ErrNotFound
		}
		if err != nil {
			return err
		}
		for _, name := range names {
			res, err := tx.ExecContext(ctx, `
				insert into user_files (user_id, file_name) values ($1, $2)
				on conflict (user_id, file_name) do nothing
			`, userID, name)
			if err != nil {
				return fmt.Errorf("assign %s: %w", name, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n > 0 {
				added = append(added, name)
			}
		}
		assigned, err = assignedFiles(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return added, assigned, nil
}

func (s *Users) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNoDB
	}
	return s.db.PingContext(ctx)
}

func assignedFiles(ctx context.Context, q dbtx, userID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `select file_name from user_files where user_id = $1 order by seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
