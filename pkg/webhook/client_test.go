package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestPostSuccess(t *testing.T) {
	var gotContentType, gotAgent string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAgent = r.Header.Get("User-Agent")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(2*time.Second, testLogger())
	err := client.Post(context.Background(), server.URL, map[string]string{"event": "test"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if gotContentType != "application/json" {
		t.Errorf("content-type = %q", gotContentType)
	}
	if !strings.HasPrefix(gotAgent, "Checkops-Webhook/") {
		t.Errorf("user-agent = %q", gotAgent)
	}

	var payload map[string]string
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if payload["event"] != "test" {
		t.Errorf("payload = %v", payload)
	}
}

func TestPostNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not today", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(2*time.Second, testLogger())
	err := client.Post(context.Background(), server.URL, map[string]string{})
	if err == nil {
		t.Fatalf("expected error for 503")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should carry the status code: %v", err)
	}
}

func TestPostContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	client := NewClient(5*time.Second, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := client.Post(ctx, server.URL, map[string]string{}); err == nil {
		t.Fatalf("expected context deadline error")
	}
}

func TestPostUnmarshalablePayload(t *testing.T) {
	client := NewClient(time.Second, testLogger())
	if err := client.Post(context.Background(), "http://127.0.0.1:0", make(chan int)); err == nil {
		t.Fatalf("expected marshal error")
	}
}
