package files

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func encode(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestPutAndGet(t *testing.T) {
	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	blobs := NewInMemoryBlobs()
	svc := NewService(NewInMemory(), blobs, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	f, err := svc.Put(ctx, Upload{FileName: "session-01.edf", MimeType: "application/edf", Data: encode("eeg payload")})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if f.FileName != "session-01.edf" || f.MimeType != "application/edf" {
		t.Fatalf("unexpected file %+v", f)
	}
	if f.Size != int64(len("eeg payload")) {
		t.Fatalf("size = %d", f.Size)
	}
	if !strings.HasPrefix(f.StorageKey, "files/2024/03/"+f.ID+"/") {
		t.Fatalf("unexpected storage key %q", f.StorageKey)
	}
	if !f.CreatedAt.Equal(now) {
		t.Fatalf("created at = %v, want %v", f.CreatedAt, now)
	}

	got, rc, err := svc.Get(ctx, "session-01.edf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "eeg payload" || got.ID != f.ID {
		t.Fatalf("unexpected download %q %+v", body, got)
	}
}

func TestPutAcceptsDataURL(t *testing.T) {
	svc := NewService(NewInMemory(), NewInMemoryBlobs())
	f, err := svc.Put(context.Background(), Upload{
		FileName: "notes.txt",
		Data:     "data:text/plain;base64," + encode("hello"),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if f.MimeType != "text/plain" || f.Size != 5 {
		t.Fatalf("unexpected file %+v", f)
	}
}

func TestPutFallsBackToOctetStream(t *testing.T) {
	svc := NewService(NewInMemory(), NewInMemoryBlobs())
	f, err := svc.Put(context.Background(), Upload{FileName: "recording.zzq", Data: encode("x")})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if f.MimeType != defaultMimeType {
		t.Fatalf("mime type = %q", f.MimeType)
	}
}

func TestPutRejectsBadInput(t *testing.T) {
	svc := NewService(NewInMemory(), NewInMemoryBlobs(), WithMaxSize(4))
	ctx := context.Background()

	cases := map[string]Upload{
		"missing name":   {Data: encode("abc")},
		"path separator": {FileName: "../etc/passwd", Data: encode("abc")},
		"empty payload":  {FileName: "a.bin"},
		"not base64":     {FileName: "a.bin", Data: "%%%"},
		"too large":      {FileName: "a.bin", Data: encode("abcdef")},
	}
	for name, up := range cases {
		if _, err := svc.Put(ctx, up); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestPutDuplicateName(t *testing.T) {
	svc := NewService(NewInMemory(), NewInMemoryBlobs())
	ctx := context.Background()
	if _, err := svc.Put(ctx, Upload{FileName: "a.bin", Data: encode("one")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := svc.Put(ctx, Upload{FileName: "a.bin", Data: encode("two")}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

type rejectingMeta struct {
	*InMemory
}

func (rejectingMeta) Create(ctx context.Context, f *File) error { return ErrConflict }

func TestPutRemovesBlobWhenMetadataFails(t *testing.T) {
	blobs := NewInMemoryBlobs()
	svc := NewService(rejectingMeta{NewInMemory()}, blobs)
	_, err := svc.Put(context.Background(), Upload{FileName: "a.bin", Data: encode("one")})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if len(blobs.blobs) != 0 {
		t.Fatalf("expected no blobs, got %d", len(blobs.blobs))
	}
}

func TestRemoveDeletesMetadataAndPayload(t *testing.T) {
	blobs := NewInMemoryBlobs()
	svc := NewService(NewInMemory(), blobs)
	ctx, cancel := context.WithCancel(context.Background())

	f, err := svc.Put(ctx, Upload{FileName: "a.edf", Data: encode("one")})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	cancel()
	if err := svc.Remove(ctx, f); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, _, err := svc.Get(context.Background(), "a.edf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	if len(blobs.blobs) != 0 {
		t.Fatalf("expected payload to be deleted, got %d blobs", len(blobs.blobs))
	}
	if err := svc.Remove(context.Background(), f); err != nil {
		t.Fatalf("second remove: %v", err)
	}

	// The name is free again.
	if _, err := svc.Put(context.Background(), Upload{FileName: "a.edf", Data: encode("two")}); err != nil {
		t.Fatalf("put after remove: %v", err)
	}
}

func TestGetUnknownFile(t *testing.T) {
	svc := NewService(NewInMemory(), NewInMemoryBlobs())
	if _, _, err := svc.Get(context.Background(), "missing.edf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
