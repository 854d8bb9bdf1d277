package log

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func newBufferLogger(component string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{
		Level:     slog.LevelDebug,
		Component: component,
		Handler:   slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}), &buf
}

func TestLogger_EmitsComponentField(t *testing.T) {
	logger, buf := newBufferLogger(ComponentApp)

	logger.InfoContext(context.Background(), "Something happened", FieldUserID, "user-1")

	out := buf.String()
	if !strings.Contains(out, FieldComponent+"="+ComponentApp) {
		t.Errorf("record missing component attribute: %s", out)
	}
	if !strings.Contains(out, FieldUserID+"=user-1") {
		t.Errorf("record missing user attribute: %s", out)
	}
}

func TestLogger_WithComponent(t *testing.T) {
	logger, buf := newBufferLogger(ComponentApp)
	worker := logger.WithComponent(ComponentWorker)

	if worker.Component() != ComponentWorker {
		t.Errorf("Component() = %s, want %s", worker.Component(), ComponentWorker)
	}

	worker.ErrorContext(context.Background(), "Run failed", FieldError, "boom")
	if out := buf.String(); !strings.Contains(out, ComponentWorker) {
		t.Errorf("record missing worker component: %s", out)
	}
}
