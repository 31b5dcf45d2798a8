package app

import (
	"context"
	"testing"

	"github.com/bobarin/threadcast/internal/config"
	"github.com/bobarin/threadcast/internal/services"
	"github.com/bobarin/threadcast/internal/storage"
	"go.uber.org/zap"
)

func TestNewSynthesizer(t *testing.T) {
	cases := map[string]string{
		"elevenlabs": "elevenlabs",
		"cartesia":   "cartesia",
		"openai":     "openai",
	}
	for provider, wantName := range cases {
		cfg := &config.Config{}
		cfg.TTSProvider = provider
		tts, err := NewSynthesizer(cfg, zap.NewNop())
		if err != nil {
			t.Fatalf("%s: %v", provider, err)
		}
		if tts.Name() != wantName {
			t.Errorf("%s: Name() = %q", provider, tts.Name())
		}
	}

	cfg := &config.Config{}
	cfg.TTSProvider = "espeak"
	if _, err := NewSynthesizer(cfg, zap.NewNop()); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestNewTranslator(t *testing.T) {
	cfg := &config.Config{}
	cfg.TranslatorProvider = "openai"
	if tr := NewTranslator(cfg, zap.NewNop()); tr != nil {
		t.Error("translator without key should be nil")
	}

	cfg.OpenAIKey = "sk-test"
	if _, ok := NewTranslator(cfg, zap.NewNop()).(*services.OpenAIService); !ok {
		t.Error("expected OpenAI translator")
	}

	cfg.TranslatorProvider = "gemini"
	cfg.GeminiKey = "g-test"
	if _, ok := NewTranslator(cfg, zap.NewNop()).(*services.GeminiService); !ok {
		t.Error("expected Gemini translator")
	}
}

func TestNewObjectStoreSupabase(t *testing.T) {
	cfg := &config.Config{}
	cfg.StorageBackend = "supabase"
	cfg.SupabaseURL = "https://example.supabase.co"
	cfg.SupabaseStorageBucket = "videos"

	store, err := NewObjectStore(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if s, ok := store.(*storage.Storage); !ok || s.Bucket != "videos" {
		t.Errorf("store = %#v", store)
	}
}
