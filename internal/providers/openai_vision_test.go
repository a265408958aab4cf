package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIVisionClient_ProcessImage(t *testing.T) {
	t.Run("transcribes page", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["model"] != "gpt-4o-mini" {
				t.Errorf("model = %v", body["model"])
			}
			raw, _ := json.Marshal(body["messages"])
			if !strings.Contains(string(raw), "data:image/png;base64,") {
				t.Errorf("image part missing: %s", raw)
			}

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"id": "chatcmpl-1",
				"object": "chat.completion",
				"created": 1,
				"model": "gpt-4o-mini",
				"choices": [{"index": 0, "finish_reason": "stop",
					"message": {"role": "assistant", "content": "  Tab 1\nAffidavit of Jane Doe  "}}],
				"usage": {"prompt_tokens": 100, "completion_tokens": 8, "total_tokens": 108}
			}`))
		}))
		defer server.Close()

		client := NewOpenAIVisionClient(OpenAIVisionConfig{APIKey: "k", BaseURL: server.URL})
		result, err := client.ProcessImage(context.Background(), []byte("png"), 4)
		if err != nil {
			t.Fatalf("ProcessImage() error = %v", err)
		}
		if result.Text != "Tab 1\nAffidavit of Jane Doe" {
			t.Errorf("Text = %q", result.Text)
		}
		if result.Confidence != 1.0 || !result.Success {
			t.Errorf("unexpected result: %+v", result)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit"}}`))
		}))
		defer server.Close()

		client := NewOpenAIVisionClient(OpenAIVisionConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.ProcessImage(context.Background(), []byte("png"), 1)
		if !errors.Is(err, ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
	})
}
