package tika

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aihelper-go/internal/config"
)

func TestExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/tika" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		w.Write([]byte("  识别结果 " + string(body) + "\n"))
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL})
	text, err := c.ExtractText(context.Background(), strings.NewReader("abc"), "a.png")
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "识别结果 abc" {
		t.Errorf("text = %q", text)
	}
}

func TestExtractTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL})
	if _, err := c.ExtractText(context.Background(), strings.NewReader("x"), "a.png"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDetectMimeType(t *testing.T) {
	if got := detectMimeType("noext"); got != "application/octet-stream" {
		t.Errorf("got %q", got)
	}
	if got := detectMimeType("photo.png"); got != "image/png" {
		t.Errorf("got %q", got)
	}
}
