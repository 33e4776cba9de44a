package gemini

import (
	"context"
	"fmt"
	"log"
	"time"

	"google.golang.org/genai"

	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/common/config"
)

// Service - Gemini API text-to-image backend, the alternative to the local
// ComfyUI workflow for plain image generation. PBR jobs always go to ComfyUI.
type Service struct {
	client *genai.Client
	model  string

	// injectable for retry tests
	sleep func(time.Duration)
}

func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	log.Printf("✅ [Gemini] Service initialized (model: %s)", cfg.GeminiModel)
	return &Service{client: client, model: cfg.GeminiModel, sleep: time.Sleep}, nil
}

// GenerateImage - one bounded generation call, returning the first inline
// image part. Rate-limit responses are retried; everything else fails fast.
func (s *Service) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	log.Printf("🎨 [Gemini] Generating image (model: %s, prompt length: %d)", s.model, len(prompt))

	content := &genai.Content{
		Parts: []*genai.Part{genai.NewPartFromText(prompt)},
	}

	result, err := generateWithRetry(ctx, s.sleep, func() (*genai.GenerateContentResponse, error) {
		return s.client.Models.GenerateContent(
			ctx,
			s.model,
			[]*genai.Content{content},
			&genai.GenerateContentConfig{
				ResponseModalities: []string{"TEXT", "IMAGE"},
			},
		)
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini API call failed: %w", err)
	}

	if len(result.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in Gemini response")
	}

	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				log.Printf("✅ [Gemini] Received image: %d bytes", len(part.InlineData.Data))
				return part.InlineData.Data, nil
			}
		}
	}

	return nil, fmt.Errorf("no image data in Gemini response")
}
