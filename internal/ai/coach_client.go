package ai

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"
)

// CoachClient wraps the Gemini generative model used by the conversation
// analysis and advice stages. Calls go through a circuit breaker and a
// rate limiter sized to the configured API tier.
type CoachClient struct {
	apiKey       string
	model        string
	breaker      *gobreaker.CircuitBreaker
	rateLimiter  *rate.Limiter
	tokenCounter *TokenCounter
	client       *genai.Client
	tier         string
}

type TokenCounter struct {
	mu              sync.Mutex
	minuteTokens    int
	dailyTokens     int
	minuteRequests  int
	dailyRequests   int
	lastMinuteReset time.Time
	lastDayReset    time.Time
	limits          RateLimits
}

type RateLimits struct {
	RPM int // Requests per minute
	TPM int // Tokens per minute
	RPD int // Requests per day
}

func NewCoachClient(apiKey, model, tier string) (*CoachClient, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	// Configure rate limits based on tier
	limits := getRateLimits(tier)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	// RPM limit with some buffer
	rateLimiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), maxInt(limits.RPM/10, 1))

	return &CoachClient{
		apiKey:       apiKey,
		model:        model,
		breaker:      breaker,
		rateLimiter:  rateLimiter,
		tokenCounter: &TokenCounter{limits: limits},
		client:       client,
		tier:         tier,
	}, nil
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "free":
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	case "tier1":
		return RateLimits{RPM: 1000, TPM: 1000000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, TPM: 4000000, RPD: 50000}
	default:
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	}
}

// Generate runs the model over the prompt with optional grounding context
// and returns the response text. Reference sections are numbered so the
// model can cite them.
func (cc *CoachClient) Generate(ctx context.Context, prompt string, contextSections []string) (string, error) {
	// Create tracing span
	tracer := otel.Tracer("coach-client")
	ctx, span := tracer.Start(ctx, "coach.generate")
	defer span.End()

	// Estimate tokens BEFORE making request
	estimatedTokens := estimateTokens(prompt, contextSections)
	span.SetAttributes(
		attribute.Int("coach.estimated_tokens", estimatedTokens),
		attribute.Int("coach.context_sections", len(contextSections)),
		attribute.String("coach.model", cc.model),
	)

	// Check token limits
	if !cc.tokenCounter.CanConsume(estimatedTokens, 1) {
		span.SetAttributes(attribute.Bool("coach.rate_limited", true))
		return "", fmt.Errorf("rate limit exceeded: wait before retry")
	}

	// Rate limiter wait
	if err := cc.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("coach.rate_limited", true))
		return "", err
	}

	// Circuit breaker execution
	result, err := cc.breaker.Execute(func() (interface{}, error) {
		model := cc.client.GenerativeModel(cc.model)
		model.SetTemperature(0.7)
		model.SetMaxOutputTokens(2048)

		fullPrompt := buildPromptWithContext(prompt, contextSections)

		resp, err := model.GenerateContent(ctx, genai.Text(fullPrompt))
		if err != nil {
			span.SetAttributes(attribute.Bool("coach.error", true))
			span.SetAttributes(attribute.String("coach.error_message", err.Error()))
			return nil, err
		}

		// Record ACTUAL token usage from response
		actualTokens := extractTokenUsage(resp)
		cc.tokenCounter.RecordUsage(actualTokens, 1)

		span.SetAttributes(attribute.Int("coach.actual_tokens", actualTokens))

		return resp, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			span.SetAttributes(attribute.Bool("coach.circuit_breaker_open", true))
			return "", fmt.Errorf("gemini circuit breaker open: %w", err)
		}
		span.SetAttributes(attribute.Bool("coach.error", true))
		return "", err
	}

	text := ExtractText(result.(*genai.GenerateContentResponse))
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}

	span.SetAttributes(attribute.Bool("coach.success", true))
	return text, nil
}

func (tc *TokenCounter) CanConsume(tokens, requests int) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	now := time.Now()

	// Reset counters if time windows expired
	if now.Sub(tc.lastMinuteReset) >= time.Minute {
		tc.minuteTokens = 0
		tc.minuteRequests = 0
		tc.lastMinuteReset = now
	}

	if now.Sub(tc.lastDayReset) >= 24*time.Hour {
		tc.dailyTokens = 0
		tc.dailyRequests = 0
		tc.lastDayReset = now
	}

	if tc.minuteRequests+requests > tc.limits.RPM {
		return false
	}
	if tc.minuteTokens+tokens > tc.limits.TPM {
		return false
	}
	if tc.dailyRequests+requests > tc.limits.RPD {
		return false
	}

	return true
}

func (tc *TokenCounter) RecordUsage(tokens, requests int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.minuteTokens += tokens
	tc.minuteRequests += requests
	tc.dailyTokens += tokens
	tc.dailyRequests += requests
}

// Rough token estimation: 1 token is about 4 characters for Gemini
func estimateTokens(prompt string, sections []string) int {
	fullText := prompt
	for _, section := range sections {
		fullText += "\n" + section
	}
	return len(fullText) / 4
}

// Extract token usage from Gemini response
func extractTokenUsage(resp *genai.GenerateContentResponse) int {
	if resp.UsageMetadata != nil {
		return int(resp.UsageMetadata.TotalTokenCount)
	}

	estimated := len(ExtractText(resp)) / 4
	if estimated < 1 {
		estimated = 1
	}

	return estimated
}

// ExtractText flattens the text parts of a Gemini response.
func ExtractText(resp *genai.GenerateContentResponse) string {
	var result strings.Builder

	for _, candidate := range resp.Candidates {
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if text, ok := part.(genai.Text); ok {
					result.WriteString(string(text))
				}
			}
		}
	}

	return result.String()
}

// Build prompt with numbered reference sections
func buildPromptWithContext(prompt string, contextSections []string) string {
	if len(contextSections) == 0 {
		return prompt
	}

	contextStr := ""
	for i, section := range contextSections {
		contextStr += fmt.Sprintf("Reference %d:\n%s\n\n", i+1, section)
	}

	return fmt.Sprintf("Based on the following reference material:\n\n%s\n\n%s", contextStr, prompt)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Close the client
func (cc *CoachClient) Close() error {
	if cc.client != nil {
		return cc.client.Close()
	}
	return nil
}
