package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// ElevenLabs Text-to-Speech backend
// Uses the ElevenLabs REST API to convert narration into MP3 files.
// Model: eleven_flash_v2_5 (fast, 32 languages)
// ---------------------------------------------------------------------------

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_flash_v2_5"
	elevenLabsDefaultVoice = "pNInz6obpgDQGcFmaJgB"
	elevenLabsOutputFormat = "mp3_44100_128"
	elevenLabsMaxChars     = 2500
)

// ElevenLabsService synthesizes speech via the ElevenLabs API.
type ElevenLabsService struct {
	apiKey  string
	baseURL string
	voiceID string
	voices  []string // pool for random voice selection
	modelID string
	client  *http.Client
	logger  *zap.Logger
}

// Ensure ElevenLabsService implements Synthesizer at compile time.
var _ Synthesizer = (*ElevenLabsService)(nil)

// NewElevenLabsService creates an ElevenLabs backend. An empty voiceID uses the
// default voice; voices is the pool used when a random voice is requested.
func NewElevenLabsService(apiKey, voiceID string, voices []string, logger *zap.Logger) *ElevenLabsService {
	if voiceID == "" {
		voiceID = elevenLabsDefaultVoice
	}
	return &ElevenLabsService{
		apiKey:  apiKey,
		baseURL: elevenLabsBaseURL,
		voiceID: voiceID,
		voices:  voices,
		modelID: elevenLabsDefaultModel,
		client:  &http.Client{Timeout: 90 * time.Second},
		logger:  logger,
	}
}

type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

func (s *ElevenLabsService) Name() string { return "elevenlabs" }

func (s *ElevenLabsService) MaxChars() int { return elevenLabsMaxChars }

// Synthesize converts text to speech and writes the MP3 to outputPath.
func (s *ElevenLabsService) Synthesize(ctx context.Context, text, outputPath string, opts SynthesisOptions) error {
	voice := pickVoice(opts, s.voiceID, s.voices)

	reqBody := elevenLabsRequest{
		Text:    text,
		ModelID: s.modelID,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       0.60,
			SimilarityBoost: 0.80,
			Style:           0.35,
			UseSpeakerBoost: true,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal ElevenLabs request: %w", err)
	}

	// POST /v1/text-to-speech/{voice_id}?output_format=mp3_44100_128
	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", s.baseURL, voice, elevenLabsOutputFormat)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create ElevenLabs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	s.logger.Debug("elevenlabs synthesize",
		zap.String("voice", voice),
		zap.String("model", s.modelID),
		zap.Int("text_len", len(text)),
	)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ElevenLabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ElevenLabs returned status %d: %s", resp.StatusCode, truncateString(string(body), 200))
	}

	// The response body is the audio file
	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read ElevenLabs audio response: %w", err)
	}

	if err := writeAudioFile(outputPath, audioData); err != nil {
		return fmt.Errorf("ElevenLabs: %w", err)
	}
	return nil
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
