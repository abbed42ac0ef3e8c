package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"eegportal.org/internal/auth"
	"eegportal.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Out
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithIdentity(ctx, auth.Identity{Email: "root@eeg.com", IsAdmin: true})

	if err := LogEvent(ctx, "user.provisioned", map[string]any{"email": "jane.doe@eeg.com"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "user.provisioned" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor"] != "root@eeg.com" || entry["actor_admin"] != true {
		t.Fatalf("unexpected actor: %v / %v", entry["actor"], entry["actor_admin"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["email"] != "jane.doe@eeg.com" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for blank event")
	}
}
