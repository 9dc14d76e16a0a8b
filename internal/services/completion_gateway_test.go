package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/config"
	"github.com/courseforge/courseforge-backend/internal/genaitest"
	"github.com/courseforge/courseforge-backend/internal/logger"
)

func testProfile(models ...string) config.GenerationProfile {
	return config.GenerationProfile{Models: models, Temperature: 0.7, MaxOutputTokens: 1024}
}

func TestGenerateTextFallsBackToNextModel(t *testing.T) {
	client := &genaitest.Client{
		CompleteFn: func(_ context.Context, model, _ string) (string, error) {
			if model == "model-a" {
				return "", fmt.Errorf("model-a unavailable")
			}
			return "from b", nil
		},
	}
	g, err := NewCompletionGateway(logger.NewNop(), client)
	if err != nil {
		t.Fatalf("NewCompletionGateway: %v", err)
	}

	out, model, err := g.GenerateText(context.Background(), testProfile("model-a", "model-b"), "prompt")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if out != "from b" || model != "model-b" {
		t.Fatalf("got out=%q model=%q", out, model)
	}
}

func TestGenerateTextExhaustsChain(t *testing.T) {
	client := &genaitest.Client{
		CompleteFn: func(_ context.Context, model, _ string) (string, error) {
			return "", fmt.Errorf("%s down", model)
		},
	}
	g, _ := NewCompletionGateway(logger.NewNop(), client)

	_, _, err := g.GenerateText(context.Background(), testProfile("model-a", "model-b"), "prompt")
	if !apperr.IsKind(err, apperr.KindGenerationExhausted) {
		t.Fatalf("err kind: got=%v", err)
	}
	if client.CompleteCalls != 2 {
		t.Fatalf("complete calls: want=2 got=%d", client.CompleteCalls)
	}
}

func TestGenerateTextMapsDeadlineToTimeout(t *testing.T) {
	client := &genaitest.Client{
		CompleteFn: func(ctx context.Context, _, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	g, _ := NewCompletionGateway(logger.NewNop(), client)

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_, _, err := g.GenerateText(ctx, testProfile("model-a", "model-b"), "prompt")
	if !apperr.IsKind(err, apperr.KindTimeout) {
		t.Fatalf("err kind: got=%v", err)
	}
	// The chain must not be walked once the deadline is spent.
	if client.CompleteCalls > 1 {
		t.Fatalf("complete calls: want<=1 got=%d", client.CompleteCalls)
	}
}

func TestGenerateTextStreamNoFallbackAfterPartialOutput(t *testing.T) {
	client := &genaitest.Client{
		StreamFn: func(_ context.Context, model, _ string, onDelta func(string) error) error {
			if model == "model-a" {
				if err := onDelta("partial "); err != nil {
					return err
				}
				return fmt.Errorf("connection dropped")
			}
			return onDelta("full answer")
		},
	}
	g, _ := NewCompletionGateway(logger.NewNop(), client)

	var got strings.Builder
	_, err := g.GenerateTextStream(context.Background(), testProfile("model-a", "model-b"), "prompt", func(d string) error {
		got.WriteString(d)
		return nil
	})
	if !apperr.IsKind(err, apperr.KindGenerationExhausted) {
		t.Fatalf("err kind: got=%v", err)
	}
	if got.String() != "partial " {
		t.Fatalf("delivered: got=%q", got.String())
	}
	if client.StreamCalls != 1 {
		t.Fatalf("stream calls: want=1 got=%d", client.StreamCalls)
	}
}

func TestGenerateTextStreamFallsBackBeforeFirstDelta(t *testing.T) {
	client := &genaitest.Client{
		StreamFn: func(_ context.Context, model, _ string, onDelta func(string) error) error {
			if model == "model-a" {
				return fmt.Errorf("model-a refused")
			}
			return onDelta("answer")
		},
	}
	g, _ := NewCompletionGateway(logger.NewNop(), client)

	var got strings.Builder
	model, err := g.GenerateTextStream(context.Background(), testProfile("model-a", "model-b"), "prompt", func(d string) error {
		got.WriteString(d)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateTextStream: %v", err)
	}
	if model != "model-b" || got.String() != "answer" {
		t.Fatalf("got model=%q delivered=%q", model, got.String())
	}
}

func TestEmbedTextRejectsEmptyInput(t *testing.T) {
	g, _ := NewCompletionGateway(logger.NewNop(), &genaitest.Client{})
	_, err := g.EmbedText(context.Background(), "   ")
	if !apperr.IsKind(err, apperr.KindEmbedding) {
		t.Fatalf("err kind: got=%v", err)
	}
}

func TestStripCodeFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", "# Title\nbody", "# Title\nbody"},
		{"plain fence", "```\n# Title\nbody\n```", "# Title\nbody"},
		{"language tag", "```markdown\n# Title\n```", "# Title"},
		{"surrounding whitespace", "  \n```\ncontent\n```\n  ", "content"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripCodeFences(tc.in); got != tc.want {
				t.Fatalf("want=%q got=%q", tc.want, got)
			}
		})
	}
}
