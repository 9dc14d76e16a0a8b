package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/config"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/platform/genai"
)

// CompletionGateway sits between the generation services and the raw
// provider client. It owns the model fallback chain: callers hand it a
// profile and a prompt, it walks the profile's models in order and
// returns the first success, or a generation_exhausted error once the
// chain is spent.
type CompletionGateway interface {
	GenerateText(ctx context.Context, profile config.GenerationProfile, prompt string) (string, string, error)
	// GenerateTextStream falls back to the next model only while no
	// delta has been delivered yet. Once output has reached the
	// caller, a mid-stream failure is terminal.
	GenerateTextStream(ctx context.Context, profile config.GenerationProfile, prompt string, onDelta func(delta string) error) (string, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

type completionGateway struct {
	log    *logger.Logger
	client genai.Client
}

func NewCompletionGateway(log *logger.Logger, client genai.Client) (CompletionGateway, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("genai client required")
	}
	return &completionGateway{
		log:    log.With("service", "CompletionGateway"),
		client: client,
	}, nil
}

func samplingParams(profile config.GenerationProfile) genai.SamplingParams {
	return genai.SamplingParams{
		Temperature:     profile.Temperature,
		TopK:            profile.TopK,
		TopP:            profile.TopP,
		MaxOutputTokens: profile.MaxOutputTokens,
	}
}

func (g *completionGateway) GenerateText(ctx context.Context, profile config.GenerationProfile, prompt string) (string, string, error) {
	if len(profile.Models) == 0 {
		return "", "", apperr.New(apperr.KindGenerationExhausted, "no models configured")
	}

	var lastErr error
	for _, model := range profile.Models {
		if err := ctx.Err(); err != nil {
			return "", "", timeoutOrCanceled(err)
		}

		out, err := g.client.Complete(ctx, model, prompt, samplingParams(profile))
		if err == nil {
			return out, model, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", timeoutOrCanceled(ctxErr)
		}
		lastErr = err
		g.log.Warn("Model failed, trying next in chain",
			"model", model,
			"error", err.Error(),
		)
	}

	return "", "", apperr.Wrap(
		apperr.KindGenerationExhausted,
		fmt.Sprintf("all %d models in chain failed", len(profile.Models)),
		lastErr,
	)
}

func (g *completionGateway) GenerateTextStream(ctx context.Context, profile config.GenerationProfile, prompt string, onDelta func(delta string) error) (string, error) {
	if len(profile.Models) == 0 {
		return "", apperr.New(apperr.KindGenerationExhausted, "no models configured")
	}

	var lastErr error
	for _, model := range profile.Models {
		if err := ctx.Err(); err != nil {
			return "", timeoutOrCanceled(err)
		}

		delivered := false
		err := g.client.CompleteStream(ctx, model, prompt, samplingParams(profile), func(delta string) error {
			delivered = true
			return onDelta(delta)
		})
		if err == nil {
			return model, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", timeoutOrCanceled(ctxErr)
		}
		if delivered {
			// Output already reached the caller. Switching models now
			// would splice two generations together.
			return "", apperr.Wrap(apperr.KindGenerationExhausted, "stream failed after partial output", err)
		}
		lastErr = err
		g.log.Warn("Model stream failed before first delta, trying next in chain",
			"model", model,
			"error", err.Error(),
		)
	}

	return "", apperr.Wrap(
		apperr.KindGenerationExhausted,
		fmt.Sprintf("all %d models in chain failed", len(profile.Models)),
		lastErr,
	)
}

func (g *completionGateway) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.KindEmbedding, "cannot embed empty text")
	}
	vec, err := g.client.Embed(ctx, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, timeoutOrCanceled(ctxErr)
		}
		return nil, apperr.Wrap(apperr.KindEmbedding, "embedding request failed", err)
	}
	if len(vec) == 0 {
		return nil, apperr.New(apperr.KindEmbedding, "provider returned empty vector")
	}
	return vec, nil
}

func timeoutOrCanceled(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, "generation deadline exceeded", err)
	}
	return err
}

// StripCodeFences removes a surrounding markdown code fence from model
// output. Models routinely wrap structured output in ```...``` even
// when told not to.
func StripCodeFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	// Opening fence may carry a language tag.
	lines = lines[1:]
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
