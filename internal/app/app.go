// Package app builds the providers both binaries share from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/bobarin/threadcast/internal/config"
	"github.com/bobarin/threadcast/internal/pipeline"
	"github.com/bobarin/threadcast/internal/services"
	"github.com/bobarin/threadcast/internal/storage"
	"go.uber.org/zap"
)

// NewSynthesizer returns the configured TTS backend.
func NewSynthesizer(cfg *config.Config, logger *zap.Logger) (services.Synthesizer, error) {
	switch cfg.TTSProvider {
	case "elevenlabs":
		return services.NewElevenLabsService(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsVoices, logger), nil
	case "cartesia":
		return services.NewCartesiaService(cfg.CartesiaKey, cfg.CartesiaURL, cfg.CartesiaVoiceID, cfg.CartesiaVoices, logger), nil
	case "openai":
		return services.NewOpenAIService(cfg.OpenAIKey, cfg.OpenAIVoice, logger), nil
	default:
		return nil, fmt.Errorf("unknown TTS provider %q", cfg.TTSProvider)
	}
}

// NewTranslator returns the configured translator, or nil when no
// translation is configured or its key is missing.
func NewTranslator(cfg *config.Config, logger *zap.Logger) services.Translator {
	switch cfg.TranslatorProvider {
	case "gemini":
		if cfg.GeminiKey != "" {
			return services.NewGeminiService(cfg.GeminiKey, logger)
		}
	case "openai":
		if cfg.OpenAIKey != "" {
			return services.NewOpenAIService(cfg.OpenAIKey, cfg.OpenAIVoice, logger)
		}
	}
	return nil
}

// NewPipeline wires TTS, translation and ffmpeg into a render pipeline.
func NewPipeline(cfg *config.Config, logger *zap.Logger) (*pipeline.Pipeline, error) {
	tts, err := NewSynthesizer(cfg, logger)
	if err != nil {
		return nil, err
	}

	media, err := services.NewFFmpegService(cfg.TempDir, logger)
	if err != nil {
		return nil, err
	}

	translator := NewTranslator(cfg, logger)
	logger.Info("pipeline ready",
		zap.String("tts", tts.Name()),
		zap.Bool("translation", translator != nil),
		zap.String("background", cfg.BackgroundVideo),
	)

	return pipeline.New(tts, translator, media, cfg.PipelineSettings(), logger), nil
}

// NewObjectStore returns the configured bucket for finished renders.
func NewObjectStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.ObjectStore, error) {
	switch cfg.StorageBackend {
	case "minio":
		return storage.NewMinIO(ctx, storage.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
			PublicURL: cfg.MinIOPublicURL,
		}, logger)
	case "supabase", "":
		return storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
