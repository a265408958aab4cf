package providers

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRegistry(t *testing.T) {
	t.Run("register and get", func(t *testing.T) {
		r := NewRegistry()
		mock := NewMockOCRProvider()
		r.Register("test-ocr", mock)

		provider, err := r.Get("test-ocr")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if provider != mock {
			t.Error("got different provider than registered")
		}
		if r.Limiter("test-ocr") == nil {
			t.Error("expected a limiter for registered provider")
		}
	})

	t.Run("get nonexistent", func(t *testing.T) {
		if _, err := NewRegistry().Get("nonexistent"); err == nil {
			t.Error("expected error for nonexistent provider")
		}
	})

	t.Run("from config skips unusable", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{OCRProviders: map[string]OCRProviderConfig{
			"mistral":  {Type: "mistral-ocr", APIKey: "k", Enabled: true},
			"nokey":    {Type: "openai-vision", Enabled: true},
			"disabled": {Type: "mock", Enabled: false},
			"mock":     {Type: "mock", Enabled: true},
			"bogus":    {Type: "bogus", APIKey: "k", Enabled: true},
		}}, nil)

		got := r.List()
		want := []string{"mistral", "mock"}
		if len(got) != len(want) {
			t.Fatalf("List() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("List()[%d] = %s, want %s", i, got[i], want[i])
			}
		}
	})

	t.Run("reload rebuilds changed and drops removed", func(t *testing.T) {
		cfg := RegistryConfig{OCRProviders: map[string]OCRProviderConfig{
			"mistral": {Type: "mistral-ocr", APIKey: "k1", Enabled: true},
			"mock":    {Type: "mock", Enabled: true},
		}}
		r := NewRegistryFromConfig(cfg, nil)
		before, _ := r.Get("mistral")
		mockBefore, _ := r.Get("mock")

		r.Reload(RegistryConfig{OCRProviders: map[string]OCRProviderConfig{
			"mistral": {Type: "mistral-ocr", APIKey: "k2", Enabled: true},
			"mock":    {Type: "mock", Enabled: true},
		}})
		after, _ := r.Get("mistral")
		mockAfter, _ := r.Get("mock")
		if before == after {
			t.Error("expected mistral to be rebuilt after key change")
		}
		if mockBefore != mockAfter {
			t.Error("unchanged provider should be kept")
		}

		r.Reload(RegistryConfig{})
		if r.Has("mistral") || r.Has("mock") {
			t.Errorf("expected empty registry, got %v", r.List())
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		r := NewRegistry()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				r.Register("mock", NewMockOCRProvider())
			}()
			go func() {
				defer wg.Done()
				r.Get("mock")
				r.List()
			}()
		}
		wg.Wait()
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("burst then wait", func(t *testing.T) {
		rl := NewRateLimiter(20)
		for i := 0; i < 20; i++ {
			if !rl.TryConsume() {
				t.Fatalf("TryConsume() = false at %d", i)
			}
		}
		if rl.TryConsume() {
			t.Error("expected empty bucket")
		}

		start := time.Now()
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
		if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
			t.Errorf("Wait returned after %v, expected ~50ms", elapsed)
		}
	})

	t.Run("wait honors context", func(t *testing.T) {
		rl := NewRateLimiter(0.5)
		rl.Drain()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := rl.Wait(ctx); err == nil {
			t.Error("expected context error")
		}
	})

	t.Run("status", func(t *testing.T) {
		rl := NewRateLimiter(5)
		rl.TryConsume()
		st := rl.Status()
		if st.TotalConsumed != 1 || st.Burst != 5 {
			t.Errorf("status = %+v", st)
		}
	})
}

func TestMockOCRProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("per page responses", func(t *testing.T) {
		p := NewMockOCRProvider()
		p.Pages = map[int]string{2: "Tab 2"}
		res, err := p.ProcessImage(ctx, nil, 2)
		if err != nil || res.Text != "Tab 2" {
			t.Errorf("got %+v, %v", res, err)
		}
		if p.PageCalls(2) != 1 {
			t.Errorf("PageCalls(2) = %d", p.PageCalls(2))
		}
	})

	t.Run("fail after", func(t *testing.T) {
		p := NewMockOCRProvider()
		p.FailAfter = 1
		if _, err := p.ProcessImage(ctx, nil, 1); err != nil {
			t.Fatalf("first call failed: %v", err)
		}
		if _, err := p.ProcessImage(ctx, nil, 2); err == nil {
			t.Error("expected second call to fail")
		}
	})

	t.Run("fail pages", func(t *testing.T) {
		p := NewMockOCRProvider()
		p.FailPages = map[int]bool{3: true}
		if _, err := p.ProcessImage(ctx, nil, 3); err == nil {
			t.Error("expected page 3 to fail")
		}
	})
}

func TestAverageConfidence(t *testing.T) {
	if got := AverageConfidence(nil, 0.7); got != 0.7 {
		t.Errorf("fallback = %f", got)
	}
}
