package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const openAISpeechMaxChars = 4096

var openAIVoices = []string{
	string(openai.VoiceAlloy),
	string(openai.VoiceEcho),
	string(openai.VoiceFable),
	string(openai.VoiceOnyx),
	string(openai.VoiceNova),
	string(openai.VoiceShimmer),
}

// OpenAIService provides speech synthesis and translation through the OpenAI API.
type OpenAIService struct {
	client *openai.Client
	voice  string
	logger *zap.Logger
}

var (
	_ Synthesizer = (*OpenAIService)(nil)
	_ Translator  = (*OpenAIService)(nil)
)

func NewOpenAIService(apiKey, voice string, logger *zap.Logger) *OpenAIService {
	return NewOpenAIServiceWithConfig(openai.DefaultConfig(apiKey), voice, logger)
}

// NewOpenAIServiceWithConfig allows pointing the client at a different base URL.
func NewOpenAIServiceWithConfig(cfg openai.ClientConfig, voice string, logger *zap.Logger) *OpenAIService {
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &OpenAIService{
		client: openai.NewClientWithConfig(cfg),
		voice:  voice,
		logger: logger,
	}
}

func (s *OpenAIService) Name() string { return "openai" }

func (s *OpenAIService) MaxChars() int { return openAISpeechMaxChars }

// Synthesize renders text with the tts-1 model and writes the MP3 to outputPath.
func (s *OpenAIService) Synthesize(ctx context.Context, text, outputPath string, opts SynthesisOptions) error {
	voice := pickVoice(opts, s.voice, openAIVoices)

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return fmt.Errorf("openai speech request failed: %w", err)
	}
	defer resp.Close()

	audioData, err := io.ReadAll(resp)
	if err != nil {
		return fmt.Errorf("failed to read openai speech response: %w", err)
	}

	s.logger.Debug("openai synthesize", zap.String("voice", voice), zap.Int("bytes", len(audioData)))

	if err := writeAudioFile(outputPath, audioData); err != nil {
		return fmt.Errorf("openai: %w", err)
	}
	return nil
}

// Translate rewrites text into targetLang (ISO 639-1) and returns only the translation.
func (s *OpenAIService) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openai.GPT4oMini,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: translationPrompt(targetLang),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("openai translation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai translation returned no choices")
	}

	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	if translated == "" {
		return "", fmt.Errorf("openai translation returned empty text")
	}
	return translated, nil
}

// translationPrompt is shared by every Translator backend.
func translationPrompt(targetLang string) string {
	return fmt.Sprintf("Translate the user's text into the language with ISO 639-1 code %q. "+
		"Keep the tone and punctuation. Reply with the translation only, no quotes or notes.", targetLang)
}
