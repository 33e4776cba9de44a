package gemini

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	maxAttempts = 3
	retryDelay  = 2 * time.Second
)

// generateWithRetry - retry the generation call when the API reports rate
// limiting, up to maxAttempts with a fixed delay between tries. Any other
// failure returns immediately.
func generateWithRetry(ctx context.Context, sleep func(time.Duration), call func() (*genai.GenerateContentResponse, error)) (*genai.GenerateContentResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			log.Printf("🔄 [Gemini] Retry attempt %d/%d", attempt, maxAttempts)
			sleep(retryDelay)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}

		result, err := call()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRateLimited(err) {
			return nil, err
		}
		log.Printf("⚠️  [Gemini] Rate limited (attempt %d/%d): %v", attempt, maxAttempts, err)
	}

	return nil, fmt.Errorf("rate limited after %d attempts: %w", maxAttempts, lastErr)
}

// isRateLimited - 429 에러 패턴 체크
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "quota")
}
