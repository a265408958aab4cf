package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func TestMistralOCRClient_ProcessImage(t *testing.T) {
	t.Run("successful OCR", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/ocr" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if r.Method != http.MethodPost {
				t.Errorf("unexpected method: %s", r.Method)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}
			var req mistralOCRRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Document.Type != "image_url" || !strings.HasPrefix(req.Document.ImageURL.URL, "data:image/png;base64,") {
				t.Errorf("unexpected document: %+v", req.Document)
			}

			json.NewEncoder(w).Encode(mistralOCRResponse{
				Model: "mistral-ocr-latest",
				Pages: []mistralOCRPage{{
					Markdown:   "INDEX\n\n1. Notice of Motion",
					Dimensions: mistralPageDimensions{Width: 1700, Height: 2200, DPI: 200},
				}},
				UsageInfo: &mistralUsageInfo{PagesProcessed: 1},
			})
		}))
		defer server.Close()

		client := NewMistralOCRClient(MistralOCRConfig{APIKey: "test-key", BaseURL: server.URL})
		result, err := client.ProcessImage(context.Background(), []byte("\x89PNG fake"), 1)
		if err != nil {
			t.Fatalf("ProcessImage() error = %v", err)
		}
		if !result.Success || result.Text != "INDEX\n\n1. Notice of Motion" {
			t.Errorf("unexpected result: %+v", result)
		}
		if result.Confidence != 1.0 {
			t.Errorf("Confidence = %f, want 1.0", result.Confidence)
		}
		if result.CostUSD != MistralOCRCostPerPage {
			t.Errorf("CostUSD = %f, want %f", result.CostUSD, MistralOCRCostPerPage)
		}
		dims, ok := result.Metadata["dimensions"].(map[string]any)
		if !ok || dims["dpi"] != 200 {
			t.Errorf("unexpected dimensions: %v", result.Metadata["dimensions"])
		}
	})

	t.Run("pdf bytes sent as document_url", func(t *testing.T) {
		var got mistralDocument
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req mistralOCRRequest
			json.NewDecoder(r.Body).Decode(&req)
			got = req.Document
			json.NewEncoder(w).Encode(mistralOCRResponse{Pages: []mistralOCRPage{{Markdown: "text"}}})
		}))
		defer server.Close()

		client := NewMistralOCRClient(MistralOCRConfig{APIKey: "k", BaseURL: server.URL})
		if _, err := client.ProcessImage(context.Background(), []byte("%PDF-1.7 ..."), 3); err != nil {
			t.Fatal(err)
		}
		if got.Type != "document_url" || !strings.HasPrefix(got.DocumentURL, "data:application/pdf;base64,") {
			t.Errorf("unexpected document: %+v", got)
		}
	})

	t.Run("empty pages response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(mistralOCRResponse{Model: "mistral-ocr-latest"})
		}))
		defer server.Close()

		client := NewMistralOCRClient(MistralOCRConfig{APIKey: "k", BaseURL: server.URL})
		result, err := client.ProcessImage(context.Background(), []byte("fake"), 1)
		if err == nil {
			t.Error("expected error for empty pages")
		}
		if result.Success || result.ErrorMessage == "" {
			t.Errorf("unexpected result: %+v", result)
		}
	})

	t.Run("API error response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "Invalid image format", "type": "invalid_request_error"},
			})
		}))
		defer server.Close()

		client := NewMistralOCRClient(MistralOCRConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.ProcessImage(context.Background(), []byte("fake"), 1)
		if err == nil || !strings.Contains(err.Error(), "Invalid image format") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := NewMistralOCRClient(MistralOCRConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.ProcessImage(context.Background(), []byte("fake"), 1)
		if !errors.Is(err, ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
		}))
		defer server.Close()

		client := NewMistralOCRClient(MistralOCRConfig{APIKey: "k", BaseURL: server.URL})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := client.ProcessImage(ctx, []byte("fake"), 1)
		if err == nil || result.Success {
			t.Error("expected error from cancelled context")
		}
	})
}

// TestMistralOCRIntegration runs real OCR against the Mistral API.
// Requires MISTRAL_API_KEY and a PNG at testdata/page.png.
func TestMistralOCRIntegration(t *testing.T) {
	apiKey := os.Getenv("MISTRAL_API_KEY")
	if apiKey == "" {
		t.Skip("MISTRAL_API_KEY not set - skipping integration test")
	}
	image, err := os.ReadFile("testdata/page.png")
	if err != nil {
		t.Skipf("no test image: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, err := NewMistralOCRClient(MistralOCRConfig{APIKey: apiKey}).ProcessImage(ctx, image, 1)
	if err != nil {
		t.Fatalf("ProcessImage() error = %v", err)
	}
	if result.Text == "" {
		t.Error("expected non-empty text")
	}
	t.Logf("Extracted %d characters in %v", len(result.Text), result.ExecutionTime)
}
