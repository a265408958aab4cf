package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Method == http.MethodPost && r.Header.Get("Content-Type") != "application/json" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"status":"ok"}`))
		case "/json-error":
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"no trial record"}`))
		case "/text-error":
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down\n"))
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		case "/raw":
			w.Write([]byte("# HELP x\n"))
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL)

	t.Run("decodes success", func(t *testing.T) {
		var resp struct{ Status string }
		if err := c.Post(ctx, "/ok", map[string]string{"a": "b"}, &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Status != "ok" {
			t.Errorf("status = %q", resp.Status)
		}
	})

	t.Run("maps error body", func(t *testing.T) {
		err := c.Get(ctx, "/json-error", nil)
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Message != "no trial record" {
			t.Errorf("error = %+v", apiErr)
		}
		if err.Error() != "server error (422): no trial record" {
			t.Errorf("message = %q", err.Error())
		}
	})

	t.Run("falls back to raw body", func(t *testing.T) {
		err := c.Get(ctx, "/text-error", nil)
		if err == nil || err.Error() != "server error (502): upstream down" {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		var resp map[string]any
		if err := c.Delete(ctx, "/empty", &resp); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("raw body", func(t *testing.T) {
		body, err := c.GetRaw(ctx, "/raw")
		if err != nil || string(body) != "# HELP x\n" {
			t.Errorf("GetRaw = %q, %v", body, err)
		}
	})
}

func TestOutputTo(t *testing.T) {
	data := struct {
		DocumentID string `json:"document_id"`
		Skipped    int    `json:"skipped,omitempty"`
	}{DocumentID: "brief-1"}

	t.Run("yaml uses json field names", func(t *testing.T) {
		var buf bytes.Buffer
		if err := OutputTo(&buf, OutputFormatYAML, data); err != nil {
			t.Fatal(err)
		}
		if got := buf.String(); got != "document_id: brief-1\n" {
			t.Errorf("yaml = %q", got)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := OutputTo(&buf, OutputFormatJSON, data); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), `"document_id": "brief-1"`) {
			t.Errorf("json = %q", buf.String())
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if err := OutputTo(&bytes.Buffer{}, "xml", data); err == nil {
			t.Error("expected error")
		}
	})
}

type fakeEndpoint struct {
	method, path string
	init         bool
	noCommand    bool
}

func (e *fakeEndpoint) Route() (string, string, http.HandlerFunc) {
	return e.method, e.path, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }
}

func (e *fakeEndpoint) RequiresInit() bool { return e.init }

func (e *fakeEndpoint) Command(func() string) *cobra.Command {
	if e.noCommand {
		return nil
	}
	return &cobra.Command{Use: e.method + e.path}
}

func TestGroup(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", ""},
		{"/metrics", ""},
		{"/api/jobs", "jobs"},
		{"/api/jobs/{id}", "jobs"},
		{"/api/documents/{id}/ingest/poll", "documents"},
		{"/api/ingest/notifications", "ingest"},
	}
	for _, tt := range tests {
		if got := Group(tt.path); got != tt.want {
			t.Errorf("Group(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeEndpoint{method: "GET", path: "/health"})
	r.Register(&fakeEndpoint{method: "GET", path: "/api/jobs", init: true})
	r.Register(&fakeEndpoint{method: "DELETE", path: "/api/jobs/{id}", init: true})
	r.Register(&fakeEndpoint{method: "GET", path: "/swagger", noCommand: true})

	t.Run("commands grouped by path", func(t *testing.T) {
		root := r.BuildCommands(func() string { return "" })
		var names []string
		for _, c := range root.Commands() {
			names = append(names, c.Name())
		}
		if strings.Join(names, ",") != "GET/health,jobs" {
			t.Fatalf("top-level commands = %v", names)
		}
		jobs, _, err := root.Find([]string{"jobs"})
		if err != nil || len(jobs.Commands()) != 2 {
			t.Errorf("jobs group = %v, %v", jobs, err)
		}
	})

	t.Run("init middleware wraps only init routes", func(t *testing.T) {
		mux := http.NewServeMux()
		r.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		})
		for path, want := range map[string]int{"/health": http.StatusTeapot, "/api/jobs": http.StatusServiceUnavailable} {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != want {
				t.Errorf("%s code = %d, want %d", path, rec.Code, want)
			}
		}
	})
}
