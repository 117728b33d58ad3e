package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/nuvion/edge-agent/pkg/authtoken"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestRequestRetriesOnceOn401 implements scenario 4 from the spec: a 401 on
// the first call, a successful refresh, then a 200 on the retried call.
func TestRequestRetriesOnceOn401(t *testing.T) {
	var refreshCalls atomic.Int32
	var uploadCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			refreshCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"accessToken": "tok-2"},
			})
		case "/devices/media/upload-url":
			n := uploadCalls.Add(1)
			if n == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"objectName": "o1", "uploadUrl": "https://s/u"},
			})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	tokens := authtoken.New(srv.URL, "dev", "pw", testLogger())
	tokens.Set("tok-1")
	client := New(srv.URL, tokens, testLogger())

	var out struct {
		Data struct {
			ObjectName string `json:"objectName"`
			UploadURL  string `json:"uploadUrl"`
		} `json:"data"`
	}

	err := client.Request(context.Background(), http.MethodPost, "/devices/media/upload-url",
		map[string]string{"type": "CLIP", "contentType": "video/mp4"}, &out)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	if refreshCalls.Load() != 1 {
		t.Errorf("expected exactly 1 refresh call, got %d", refreshCalls.Load())
	}
	if uploadCalls.Load() != 2 {
		t.Errorf("expected exactly 2 upload-url calls, got %d", uploadCalls.Load())
	}
	if out.Data.ObjectName != "o1" || out.Data.UploadURL != "https://s/u" {
		t.Errorf("unexpected response: %+v", out.Data)
	}
}

func TestRequestNonRetryableErrorReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tokens := authtoken.New(srv.URL, "dev", "pw", testLogger())
	tokens.Set("tok-1")
	client := New(srv.URL, tokens, testLogger())

	err := client.Request(context.Background(), http.MethodGet, "/anything", nil, nil)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestRequestDoesNotRetryTwice(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"accessToken": "tok-2"}})
		default:
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	tokens := authtoken.New(srv.URL, "dev", "pw", testLogger())
	tokens.Set("tok-1")
	client := New(srv.URL, tokens, testLogger())

	err := client.Request(context.Background(), http.MethodGet, "/devices/media/upload-url", nil, nil)
	if err == nil {
		t.Fatal("expected error: every retry still returns 401")
	}
	if calls.Load() != 2 {
		t.Errorf("expected exactly 2 attempts (1 original + 1 retry), got %d", calls.Load())
	}
}
