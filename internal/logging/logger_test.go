package logging

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseLevel(tt.in); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	return &buf
}

func TestFromContext_JobID(t *testing.T) {
	buf := captureDefault(t)

	ctx := WithJobID(context.Background(), "job-42")
	FromContext(ctx).Info("row processed")

	if !strings.Contains(buf.String(), "job_id=job-42") {
		t.Errorf("log line missing job_id: %q", buf.String())
	}
	if JobID(ctx) != "job-42" {
		t.Errorf("JobID() = %q, want job-42", JobID(ctx))
	}
}

func TestFromContext_RequestID(t *testing.T) {
	buf := captureDefault(t)

	var ctx context.Context
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	FromContext(ctx).Info("handled")
	if !strings.Contains(buf.String(), "request_id=") {
		t.Errorf("log line missing request_id: %q", buf.String())
	}
	if strings.Contains(buf.String(), "job_id") {
		t.Errorf("unexpected job_id in %q", buf.String())
	}
}
