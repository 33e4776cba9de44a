package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/genai"
)

func noSleep(time.Duration) {}

func TestGenerateWithRetrySucceedsAfterRateLimit(t *testing.T) {
	calls := 0
	result, err := generateWithRetry(context.Background(), noSleep, func() (*genai.GenerateContentResponse, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("googleapi: Error 429: Resource has been exhausted")
		}
		return &genai.GenerateContentResponse{}, nil
	})
	if err != nil {
		t.Fatalf("generateWithRetry: %v", err)
	}
	if result == nil {
		t.Fatal("nil result on success")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestGenerateWithRetryFailsFastOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("invalid argument")
	_, err := generateWithRetry(context.Background(), noSleep, func() (*genai.GenerateContentResponse, error) {
		calls++
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the original error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on non-429)", calls)
	}
}

func TestGenerateWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	var sleeps int
	_, err := generateWithRetry(context.Background(), func(time.Duration) { sleeps++ }, func() (*genai.GenerateContentResponse, error) {
		calls++
		return nil, errors.New("quota exceeded")
	})
	if err == nil {
		t.Fatal("want error after exhausting attempts")
	}
	if calls != maxAttempts {
		t.Errorf("calls = %d, want %d", calls, maxAttempts)
	}
	if sleeps != maxAttempts-1 {
		t.Errorf("sleeps = %d, want %d", sleeps, maxAttempts-1)
	}
}

func TestGenerateWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := generateWithRetry(ctx, func(time.Duration) { cancel() }, func() (*genai.GenerateContentResponse, error) {
		calls++
		return nil, errors.New("429 too many requests")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestIsRateLimited(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Error 429: too many requests"), true},
		{errors.New("Rate Limit exceeded"), true},
		{errors.New("quota exhausted for project"), true},
		{errors.New("permission denied"), false},
	}
	for _, tc := range cases {
		if got := isRateLimited(tc.err); got != tc.want {
			t.Errorf("isRateLimited(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
