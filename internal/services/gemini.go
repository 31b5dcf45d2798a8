package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const geminiTranslateModel = "gemini-2.5-flash"

// GeminiService translates narration text with the Gemini API.
type GeminiService struct {
	apiKey string
	model  string
	logger *zap.Logger
}

var _ Translator = (*GeminiService)(nil)

func NewGeminiService(apiKey string, logger *zap.Logger) *GeminiService {
	return &GeminiService{
		apiKey: apiKey,
		model:  geminiTranslateModel,
		logger: logger,
	}
}

// Translate asks Gemini for a plain translation of text into targetLang.
func (s *GeminiService) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(translationPrompt(targetLang), genai.RoleUser),
	}

	resp, err := client.Models.GenerateContent(ctx, s.model, genai.Text(text), config)
	if err != nil {
		return "", fmt.Errorf("gemini translation failed: %w", err)
	}

	translated := strings.TrimSpace(resp.Text())
	if translated == "" {
		return "", fmt.Errorf("gemini translation returned empty text")
	}

	s.logger.Debug("gemini translate", zap.String("lang", targetLang), zap.Int("text_len", len(text)))
	return translated, nil
}
