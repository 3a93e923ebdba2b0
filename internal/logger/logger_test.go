package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNew_LevelsAndFormats(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	log.Info("hidden")
	log.Warn("shown", "job", 1)

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", out, err)
	}
	if rec["msg"] != "shown" || rec["job"] != float64(1) {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Error("New() with invalid level: expected error")
	}
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("New() with invalid format: expected error")
	}
}

func TestSessionID(t *testing.T) {
	ctx := context.Background()
	if got := SessionIDFromContext(ctx); got != "" {
		t.Errorf("SessionIDFromContext() on empty ctx = %v, want empty", got)
	}

	id := NewSessionID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("NewSessionID() = %q is not a UUID: %v", id, err)
	}
	ctx = WithSessionID(ctx, id)
	if got := SessionIDFromContext(ctx); got != id {
		t.Errorf("SessionIDFromContext() = %v, want %v", got, id)
	}

	var buf bytes.Buffer
	base, err := New(&buf, "info", "text")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	FromContext(ctx, base).Info("hello")
	if !strings.Contains(buf.String(), "session="+id) {
		t.Errorf("expected session attribute in %q", buf.String())
	}
}
