package files

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"eegportal.org/internal/ids"
)

const defaultMimeType = "application/octet-stream"

// Upload is an incoming file whose payload is base64 encoded, as sent by the
// admin front-end.
type Upload struct {
	FileName string
	MimeType string
	Data     string
}

// Service stores and retrieves files.
type Service struct {
	meta    MetadataStore
	blobs   BlobStore
	maxSize int64
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMaxSize caps the decoded payload size. Zero disables the cap.
func WithMaxSize(n int64) Option {
	return func(s *Service) { s.maxSize = n }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(meta MetadataStore, blobs BlobStore, opts ...Option) *Service {
	s := &Service{meta: meta, blobs: blobs, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put decodes the upload, writes the payload and records its metadata. The
// blob is removed again if the metadata insert fails.
func (s *Service) Put(ctx context.Context, up Upload) (*File, error) {
	name, err := cleanName(up.FileName)
	if err != nil {
		return nil, err
	}
	data, embeddedType, err := decodePayload(up.Data)
	if err != nil {
		return nil, err
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidInput, len(data), s.maxSize)
	}
	mimeType := up.MimeType
	if strings.TrimSpace(mimeType) == "" {
		mimeType = embeddedType
	}
	if _, err := s.meta.FindByName(ctx, name); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup file: %w", err)
	}

	now := s.now().UTC()
	id := ids.NewAt(now)
	f := &File{
		ID:         id,
		FileName:   name,
		MimeType:   normalizeMimeType(mimeType, name),
		Size:       int64(len(data)),
		StorageKey: ids.StorageKey(id, name, now),
		CreatedAt:  now,
	}
	if err := s.blobs.Put(ctx, f.StorageKey, f.MimeType, data); err != nil {
		return nil, fmt.Errorf("store payload: %w", err)
	}
	if err := s.meta.Create(ctx, f); err != nil {
		_ = s.blobs.Delete(context.WithoutCancel(ctx), f.StorageKey)
		return nil, err
	}
	return f, nil
}

// Get returns the metadata and an open reader for the named file. Callers
// must close the reader.
func (s *Service) Get(ctx context.Context, fileName string) (*File, io.ReadCloser, error) {
	f, err := s.meta.FindByName(ctx, fileName)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, f.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return f, rc, nil
}

// Remove deletes a stored file and its payload. It runs even if ctx is already
// cancelled so that a failed request can undo its own upload.
func (s *Service) Remove(ctx context.Context, f *File) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	if err := s.meta.Delete(ctx, f.ID); err != nil && !errors.Is(err, ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete metadata: %w", err))
	}
	if err := s.blobs.Delete(ctx, f.StorageKey); err != nil && !errors.Is(err, ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete payload: %w", err))
	}
	return errors.Join(errs...)
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: fileName is required", ErrInvalidInput)
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return "", fmt.Errorf("%w: fileName must not contain path separators", ErrInvalidInput)
	}
	return name, nil
}

// decodePayload accepts standard base64 with or without a data URL prefix and
// returns the media type named by the prefix, if any.
func decodePayload(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var mediaType string
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		mediaType = s[len("data:"):i]
		s = s[i+len(";base64,"):]
	}
	if s == "" {
		return nil, "", fmt.Errorf("%w: file payload is empty", ErrInvalidInput)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: file is not valid base64", ErrInvalidInput)
	}
	return data, mediaType, nil
}

func normalizeMimeType(mt, name string) string {
	if mt = strings.TrimSpace(mt); mt != "" {
		if parsed, params, err := mime.ParseMediaType(mt); err == nil {
			return mime.FormatMediaType(parsed, params)
		}
	}
	if byExt := mime.TypeByExtension(path.Ext(name)); byExt != "" {
		return byExt
	}
	return defaultMimeType
}
