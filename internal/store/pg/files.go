package pg

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"

	"eegportal.org/internal/files"
)

var (
	_ files.MetadataStore = (*Files)(nil)
	_ files.BlobStore     = (*Blobs)(nil)
)

// Files stores file metadata.
type Files struct {
	db *sql.DB
}

func (s *Files) Create(ctx context.Context, f *files.File) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into files (id, file_name, mime_type, size, storage_key, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, f.ID, f.FileName, f.MimeType, f.Size, f.StorageKey, f.CreatedAt)
	if isUniqueViolation(err) {
		return files.ErrConflict
	}
	return err
}

func (s *Files) FindByName(ctx context.Context, fileName string) (*files.File, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var f files.File
	err := s.db.QueryRowContext(ctx, `
		select id, file_name, mime_type, size, storage_key, created_at
		from files where file_name = $1
	`, fileName).Scan(&f.ID, &f.FileName, &f.MimeType, &f.Size, &f.StorageKey, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, files.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Files) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from files where id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return files.ErrNotFound
	}
	return nil
}

func (s *Files) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNoDB
	}
	return s.db.PingContext(ctx)
}

// Blobs keeps payloads in a bytea column. Suitable for the modest EEG
// recordings the portal serves; large deployments use the S3 store.
type Blobs struct {
	db *sql.DB
}

func (s *Blobs) Put(ctx context.Context, key, contentType string, data []byte) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into file_blobs (storage_key, content_type, data) values ($1, $2, $3)
		on conflict (storage_key) do update set content_type = excluded.content_type, data = excluded.data
	`, key, contentType, data)
	return err
}

func (s *Blobs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `select data from file_blobs where storage_key = $1`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, files.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Blobs) Delete(ctx context.Context, key string) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `delete from file_blobs where storage_key = $1`, key)
	return err
}
