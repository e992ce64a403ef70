// Package gemini wraps the Google GenAI SDK behind the three call shapes the
// studio needs: plain text completion, JSON-mode completion, and multimodal
// image generation.
package gemini

import (
	"context"
	"fmt"
	"time"

	"flora/internal/config"
	"flora/internal/logging"

	"google.golang.org/genai"
)

const (
	// defaultTimeout bounds a single provider call when the caller's context
	// carries no deadline of its own.
	defaultTimeout = 60 * time.Second

	// rateLimitPause is a short breath before each request so rapid
	// branch fan-outs do not burst straight into a rate limit.
	rateLimitPause = 100 * time.Millisecond
)

// InlineImage is an image attached to a generation request.
type InlineImage struct {
	MIME string
	Data []byte
}

// GeneratedImage is the image payload of a successful generation call.
type GeneratedImage struct {
	MIME string
	Data []byte
}

// Client is a single-credential provider client. Credential rotation happens
// above this layer; a Client never retries with a different key.
type Client struct {
	inner      *genai.Client
	imageModel string
	textModel  string
	timeout    time.Duration
}

// NewClient creates a provider client bound to one API key. Model names and
// timeout come from user configuration, with built-in defaults.
func NewClient(ctx context.Context, apiKey string, cfg *config.UserConfig) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	inner, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider client: %w", err)
	}

	c := &Client{
		inner:      inner,
		imageModel: "gemini-2.5-flash-image",
		textModel:  "gemini-2.5-flash",
		timeout:    defaultTimeout,
	}
	if cfg != nil {
		if cfg.ImageModel != "" {
			c.imageModel = cfg.ImageModel
		}
		if cfg.TextModel != "" {
			c.textModel = cfg.TextModel
		}
		if cfg.RequestTimeoutSec > 0 {
			c.timeout = time.Duration(cfg.RequestTimeoutSec) * time.Second
		}
	}
	return c, nil
}

// withDeadline applies the client timeout unless the caller already set one.
func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Complete runs a plain text completion. A nil temperature uses the model
// default.
func (c *Client) Complete(ctx context.Context, prompt string, temperature *float32) (string, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	time.Sleep(rateLimitPause)

	var cfg *genai.GenerateContentConfig
	if temperature != nil {
		cfg = &genai.GenerateContentConfig{Temperature: temperature}
	}

	logging.ProviderDebug("text completion model=%s len=%d", c.textModel, len(prompt))
	resp, err := c.inner.Models.GenerateContent(ctx, c.textModel,
		genai.Text(prompt), cfg)
	if err != nil {
		return "", Classify(err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("completion from %s: %w", c.textModel, ErrEmptyResult)
	}
	return text, nil
}

// CompleteJSON runs a completion constrained to a JSON response, optionally
// grounded on an image.
func (c *Client) CompleteJSON(ctx context.Context, prompt string, image *InlineImage) (string, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	time.Sleep(rateLimitPause)

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if image != nil {
		parts = append(parts, genai.NewPartFromBytes(image.Data, image.MIME))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	logging.ProviderDebug("json completion model=%s image=%t", c.textModel, image != nil)
	resp, err := c.inner.Models.GenerateContent(ctx, c.textModel, contents,
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"})
	if err != nil {
		return "", Classify(err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("JSON completion from %s: %w", c.textModel, ErrEmptyResult)
	}
	return text, nil
}

// GenerateImage submits an instruction plus one or more source images and
// returns the first image part of the response. aspectRatio must be one of
// the ratios the model supports.
func (c *Client) GenerateImage(ctx context.Context, instruction string, images []InlineImage, aspectRatio string) (*GeneratedImage, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	time.Sleep(rateLimitPause)

	parts := []*genai.Part{genai.NewPartFromText(instruction)}
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIME))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{}
	if aspectRatio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: aspectRatio}
	}

	timer := logging.StartTimer(logging.CategoryProvider, "image generation")
	defer timer.Stop()
	logging.Provider("image generation model=%s images=%d aspect=%s", c.imageModel, len(images), aspectRatio)

	resp, err := c.inner.Models.GenerateContent(ctx, c.imageModel, contents, cfg)
	if err != nil {
		return nil, Classify(err)
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mime := part.InlineData.MIMEType
				if mime == "" {
					mime = "image/png"
				}
				return &GeneratedImage{MIME: mime, Data: part.InlineData.Data}, nil
			}
		}
	}
	logging.ProviderWarn("generation returned no image part model=%s", c.imageModel)
	return nil, ErrEmptyResult
}
