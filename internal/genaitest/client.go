// Package genaitest provides a programmable in-memory genai.Client
// for service tests.
package genaitest

import (
	"context"
	"fmt"

	"github.com/courseforge/courseforge-backend/internal/platform/genai"
)

type Client struct {
	CompleteFn func(ctx context.Context, model, prompt string) (string, error)
	StreamFn   func(ctx context.Context, model, prompt string, onDelta func(string) error) error
	EmbedFn    func(ctx context.Context, input string) ([]float32, error)

	CompleteCalls int
	StreamCalls   int
	EmbedCalls    int
}

var _ genai.Client = (*Client)(nil)

func (c *Client) Complete(ctx context.Context, model, prompt string, _ genai.SamplingParams) (string, error) {
	c.CompleteCalls++
	if c.CompleteFn == nil {
		return "", fmt.Errorf("CompleteFn not set")
	}
	return c.CompleteFn(ctx, model, prompt)
}

func (c *Client) CompleteStream(ctx context.Context, model, prompt string, _ genai.SamplingParams, onDelta func(string) error) error {
	c.StreamCalls++
	if c.StreamFn == nil {
		return fmt.Errorf("StreamFn not set")
	}
	return c.StreamFn(ctx, model, prompt, onDelta)
}

func (c *Client) Embed(ctx context.Context, input string) ([]float32, error) {
	c.EmbedCalls++
	if c.EmbedFn == nil {
		return []float32{0.1, 0.2, 0.3}, nil
	}
	return c.EmbedFn(ctx, input)
}
