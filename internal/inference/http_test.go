package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/dkoval/atelier/internal/stylize"
	"github.com/dkoval/atelier/internal/task"
)

func newHTTPTask(t *testing.T) *task.Task {
	t.Helper()
	tk, err := task.New(t.TempDir(), stylize.VanGogh, "user-1")
	if err != nil {
		t.Fatalf("task.New() error = %v", err)
	}
	t.Cleanup(func() { _ = tk.Done() })
	if err := tk.WriteAsset(0, stylize.AssetRecord{Data: []byte("input-bytes"), Format: stylize.JPEG}); err != nil {
		t.Fatalf("WriteAsset() error = %v", err)
	}
	return tk
}

func TestHTTPEngineRun(t *testing.T) {
	var gotReq httpRunRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(httpRunResponse{
			Results: []httpAsset{{
				Name:       "0.jpg",
				DataBase64: base64.StdEncoding.EncodeToString([]byte("styled-bytes")),
			}},
		})
	}))
	defer ts.Close()

	tk := newHTTPTask(t)
	engine := NewHTTPEngine(ts.URL, time.Minute)

	paths, err := engine.Run(context.Background(), tk)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("len(paths) = %d, want 1", len(paths))
	}
	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("reading result: %v", err)
	}
	if string(data) != "styled-bytes" {
		t.Fatalf("result = %q, want %q", data, "styled-bytes")
	}

	if gotReq.JobType != "p2avg" {
		t.Fatalf("request job_type = %q, want %q", gotReq.JobType, "p2avg")
	}
	if len(gotReq.Assets) != 1 || gotReq.Assets[0].Name != "0.jpg" {
		t.Fatalf("request assets = %+v, want one 0.jpg entry", gotReq.Assets)
	}
}

func TestHTTPEngineClassifiesSizeFailures(t *testing.T) {
	tests := []struct {
		kind    string
		wantErr error
	}{
		{string(KindTooBig), ErrImageTooBig},
		{string(KindTooSmall), ErrImageTooSmall},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_ = json.NewEncoder(w).Encode(httpRunResponse{Error: "rejected input", Kind: tt.kind})
			}))
			defer ts.Close()

			engine := NewHTTPEngine(ts.URL, time.Minute)
			_, err := engine.Run(context.Background(), newHTTPTask(t))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPEngineSurfacesCancellation(t *testing.T) {
	started := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read; otherwise
		// it never observes the client closing the connection and
		// r.Context() is never canceled, deadlocking ts.Close().
		_, _ = io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer ts.Close()

	engine := NewHTTPEngine(ts.URL, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := engine.Run(ctx, newHTTPTask(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}
