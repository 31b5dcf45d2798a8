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

const (
	// Default Cartesia API version
	CartesiaAPIVersion = "2024-06-10"

	// DefaultVoiceID is used when no Cartesia voice is configured.
	DefaultVoiceID = "a0e99841-438c-4a64-b679-ae501e7d6091"

	cartesiaMaxChars = 5000
)

// CartesiaService synthesizes speech with the Cartesia bytes endpoint.
type CartesiaService struct {
	apiKey         string
	apiURL         string
	apiVersion     string
	defaultVoiceID string
	voices         []string
	language       string
	client         *http.Client
	logger         *zap.Logger
}

var _ Synthesizer = (*CartesiaService)(nil)

// NewCartesiaService creates a Cartesia backend with a default voice and an
// optional pool for random voice selection.
func NewCartesiaService(apiKey, apiURL, voiceID string, voices []string, logger *zap.Logger) *CartesiaService {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	return &CartesiaService{
		apiKey:         apiKey,
		apiURL:         apiURL,
		apiVersion:     CartesiaAPIVersion,
		defaultVoiceID: voiceID,
		voices:         voices,
		language:       "en",
		client:         &http.Client{Timeout: 60 * time.Second},
		logger:         logger,
	}
}

// CartesiaRequest matches the Cartesia /tts/bytes request body.
type CartesiaRequest struct {
	ModelID      string                    `json:"model_id"`
	Transcript   string                    `json:"transcript"`
	Voice        CartesiaVoiceSpecifier    `json:"voice"`
	Language     *string                   `json:"language,omitempty"`
	OutputFormat CartesiaOutputFormat      `json:"output_format"`
	Config       *CartesiaGenerationConfig `json:"generation_config,omitempty"`
}

type CartesiaVoiceSpecifier struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type CartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

type CartesiaGenerationConfig struct {
	Volume *float64 `json:"volume,omitempty"` // 0.5 to 2.0
	Speed  *float64 `json:"speed,omitempty"`  // 0.6 to 1.5
}

func (s *CartesiaService) Name() string { return "cartesia" }

func (s *CartesiaService) MaxChars() int { return cartesiaMaxChars }

// Synthesize generates MP3 audio for text and writes it to outputPath.
func (s *CartesiaService) Synthesize(ctx context.Context, text, outputPath string, opts SynthesisOptions) error {
	speed := 1.0
	volume := 1.4 // Louder output for mobile viewing
	reqBody := CartesiaRequest{
		ModelID:    "sonic-english",
		Transcript: text,
		Voice: CartesiaVoiceSpecifier{
			Mode: "id",
			ID:   pickVoice(opts, s.defaultVoiceID, s.voices),
		},
		Language: &s.language,
		OutputFormat: CartesiaOutputFormat{
			Container:  "mp3",
			SampleRate: 44100,
			BitRate:    192000,
		},
		Config: &CartesiaGenerationConfig{Speed: &speed, Volume: &volume},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/tts/bytes", s.apiURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cartesia-Version", s.apiVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("cartesia request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cartesia returned status %d: %s", resp.StatusCode, truncateString(string(body), 200))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read audio: %w", err)
	}

	s.logger.Debug("cartesia synthesize", zap.Int("text_len", len(text)), zap.Int("bytes", len(audioData)))

	if err := writeAudioFile(outputPath, audioData); err != nil {
		return fmt.Errorf("cartesia: %w", err)
	}
	return nil
}
