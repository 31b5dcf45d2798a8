package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bobarin/threadcast/internal/narration"
	"github.com/bobarin/threadcast/internal/pipeline"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is read from the environment (and an optional .env file).
// The embedded groups keep their variables unprefixed.
type Config struct {
	ServerConfig
	StorageConfig
	ProviderConfig
	PipelineConfig
}

type ServerConfig struct {
	APIPort            string `envconfig:"API_PORT" default:"8080"`
	WorkerEnabled      bool   `envconfig:"WORKER_ENABLED" default:"true"`
	BackendAPIKey      string `envconfig:"BACKEND_API_KEY"`      // empty = no auth, dev mode
	CorsAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS"` // comma-separated, empty = *
	DatabaseURL        string `envconfig:"DATABASE_URL" validate:"required"`
	AutoMigrate        bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`
	RedisURL           string `envconfig:"REDIS_URL" default:"redis://localhost:6379" validate:"required"`
	MaxConcurrentJobs  int    `envconfig:"MAX_CONCURRENT_JOBS" default:"2" validate:"gte=1"`
}

type StorageConfig struct {
	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"supabase" validate:"oneof=supabase minio"`

	SupabaseURL           string `envconfig:"SUPABASE_URL" validate:"required_if=StorageBackend supabase"`
	SupabaseServiceKey    string `envconfig:"SUPABASE_SERVICE_KEY" validate:"required_if=StorageBackend supabase"`
	SupabaseStorageBucket string `envconfig:"SUPABASE_STORAGE_BUCKET" default:"threadcast-videos"`

	MinIOEndpoint  string `envconfig:"MINIO_ENDPOINT" validate:"required_if=StorageBackend minio"`
	MinIOAccessKey string `envconfig:"MINIO_ACCESS_KEY" validate:"required_if=StorageBackend minio"`
	MinIOSecretKey string `envconfig:"MINIO_SECRET_KEY" validate:"required_if=StorageBackend minio"`
	MinIOBucket    string `envconfig:"MINIO_BUCKET" default:"threadcast-videos"`
	MinIOUseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	MinIOPublicURL string `envconfig:"MINIO_PUBLIC_URL"`
}

type ProviderConfig struct {
	// TTS
	TTSProvider       string   `envconfig:"TTS_PROVIDER" default:"elevenlabs" validate:"oneof=elevenlabs cartesia openai"`
	ElevenLabsKey     string   `envconfig:"ELEVENLABS_API_KEY" validate:"required_if=TTSProvider elevenlabs"`
	ElevenLabsVoiceID string   `envconfig:"ELEVENLABS_VOICE_ID"`
	ElevenLabsVoices  []string `envconfig:"ELEVENLABS_VOICES"`
	CartesiaKey       string   `envconfig:"CARTESIA_API_KEY" validate:"required_if=TTSProvider cartesia"`
	CartesiaURL       string   `envconfig:"CARTESIA_API_URL" default:"https://api.cartesia.ai" validate:"url"`
	CartesiaVoiceID   string   `envconfig:"CARTESIA_VOICE_ID"`
	CartesiaVoices    []string `envconfig:"CARTESIA_VOICES"`
	OpenAIKey         string   `envconfig:"OPENAI_API_KEY" validate:"required_if=TTSProvider openai"`
	OpenAIVoice       string   `envconfig:"OPENAI_VOICE"`

	// Translation, used when POST_LANG is set
	TranslatorProvider string `envconfig:"TRANSLATOR_PROVIDER" default:"openai" validate:"oneof=openai gemini"`
	GeminiKey          string `envconfig:"GEMINI_API_KEY"`
}

type PipelineConfig struct {
	TempDir   string `envconfig:"TEMP_DIR" default:"assets/temp" validate:"required"`
	OutputDir string `envconfig:"OUTPUT_DIR" default:"results" validate:"required"`
	ImageDir  string `envconfig:"IMAGE_DIR"` // screenshots in <dir>/<thread id>/

	ResolutionW int `envconfig:"RESOLUTION_W" default:"1080" validate:"gte=2"`
	ResolutionH int `envconfig:"RESOLUTION_H" default:"1920" validate:"gte=2"`

	// Narration
	MaxVideoLength  float64 `envconfig:"MAX_VIDEO_LENGTH" default:"50" validate:"gte=0"` // seconds, 0 = unlimited
	WordByWordText  bool    `envconfig:"WORD_BY_WORD_TEXT" default:"false"`
	SilenceDuration float64 `envconfig:"SILENCE_DURATION" default:"0.3" validate:"gte=0"`
	StoryMode       bool    `envconfig:"STORY_MODE" default:"false"`
	StoryModeMethod int     `envconfig:"STORY_MODE_METHOD" default:"0" validate:"oneof=0 1"`
	PostLang        string  `envconfig:"POST_LANG" validate:"omitempty,len=2"`
	Voice           string  `envconfig:"TTS_VOICE"`
	RandomVoice     bool    `envconfig:"TTS_RANDOM_VOICE" default:"false"`
	ProbePolicy     string  `envconfig:"PROBE_POLICY" default:"tolerate" validate:"oneof=tolerate abort"`

	// Render
	BackgroundVideo       string  `envconfig:"BACKGROUND_VIDEO" validate:"required"`
	BackgroundCredit      string  `envconfig:"BACKGROUND_CREDIT"`
	BackgroundAudio       string  `envconfig:"BACKGROUND_AUDIO"`
	BackgroundAudioVolume float64 `envconfig:"BACKGROUND_AUDIO_VOLUME" default:"0.15" validate:"gte=0,lte=2"`
	Opacity               float64 `envconfig:"OPACITY" default:"0.9" validate:"gte=0,lte=1"`
	FontFile              string  `envconfig:"FONT_FILE" default:"fonts/Roboto-Bold.ttf"`
	EnableExtraAudio      bool    `envconfig:"ENABLE_EXTRA_AUDIO" default:"false"` // also render OnlyTTS
	Subtitles             bool    `envconfig:"SUBTITLES" default:"false"`
	KeepTemp              bool    `envconfig:"KEEP_TEMP" default:"false"`
}

var validate = validator.New()

// Load reads the full service configuration.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPipeline reads the configuration needed to render locally: providers
// and pipeline settings, without database, queue or storage.
func LoadPipeline() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.validatePipeline(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks every group.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return describe(err)
	}
	return c.checkTranslator()
}

func (c *Config) validatePipeline() error {
	if err := validate.Struct(&c.ProviderConfig); err != nil {
		return describe(err)
	}
	if err := validate.Struct(&c.PipelineConfig); err != nil {
		return describe(err)
	}
	return c.checkTranslator()
}

func (c *Config) checkTranslator() error {
	if c.PostLang == "" {
		return nil
	}
	switch c.TranslatorProvider {
	case "openai":
		if c.OpenAIKey == "" {
			return errors.New("invalid configuration: OPENAI_API_KEY is required to translate (POST_LANG is set)")
		}
	case "gemini":
		if c.GeminiKey == "" {
			return errors.New("invalid configuration: GEMINI_API_KEY is required to translate (POST_LANG is set)")
		}
	}
	return nil
}

// describe turns validator errors into one readable line.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
}

// NarrationSettings maps the environment onto the narration engine.
func (c *PipelineConfig) NarrationSettings() narration.Settings {
	return narration.Settings{
		MaxTotalDuration: c.MaxVideoLength,
		WordTimings:      c.WordByWordText,
		SilenceDuration:  c.SilenceDuration,
		StoryMode:        c.StoryMode,
		StoryModeMethod:  c.StoryModeMethod,
		Language:         c.PostLang,
		Voice:            c.Voice,
		RandomVoice:      c.RandomVoice,
		ProbePolicy:      narration.ProbePolicy(c.ProbePolicy),
	}
}

// PipelineSettings maps the environment onto the render pipeline.
func (c *PipelineConfig) PipelineSettings() pipeline.Settings {
	return pipeline.Settings{
		TempDir:          c.TempDir,
		OutputDir:        c.OutputDir,
		ImageRoot:        c.ImageDir,
		Width:            c.ResolutionW,
		Height:           c.ResolutionH,
		Narration:        c.NarrationSettings(),
		BackgroundVideo:  c.BackgroundVideo,
		BackgroundCredit: c.BackgroundCredit,
		BackgroundAudio:  c.BackgroundAudio,
		BackgroundVolume: c.BackgroundAudioVolume,
		Opacity:          c.Opacity,
		FontFile:         c.FontFile,
		OnlyTTS:          c.EnableExtraAudio,
		Subtitles:        c.Subtitles,
		KeepWorkspace:    c.KeepTemp,
	}
}
