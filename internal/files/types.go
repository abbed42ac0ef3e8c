package files

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound     = errors.New("file not found")
	ErrConflict     = errors.New("file already exists")
	ErrInvalidInput = errors.New("invalid file")
)

// File is the metadata of an uploaded payload. The payload itself lives in a
// BlobStore under StorageKey.
type File struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	StorageKey string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MetadataStore persists File records. FileName is unique; Create returns
// ErrConflict on a duplicate name.
type MetadataStore interface {
	Create(ctx context.Context, f *File) error
	FindByName(ctx context.Context, fileName string) (*File, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// BlobStore keeps binary payloads by key.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
