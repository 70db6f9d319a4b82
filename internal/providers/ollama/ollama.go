// Package ollama implements embedding/LLM provider clients over a local or
// remote Ollama server. Grounded on
// other_examples' xiaotianhu999-IAGraphRAG `internal/models/embedding/ollama.go`
// (OllamaEmbedder: ollamaapi.EmbedRequest/Embeddings, NaN/Inf
// sanitization) and `internal/models/utils/ollama/ollama.go` for the
// ollama/ollama api.Client usage shape, adapted to this core's
// interfaces.Embedder / interfaces.LLM contracts.
package ollama

import (
	"context"
	"fmt"
	"math"
	"net/url"

	ollamaapi "github.com/ollama/ollama/api"
	"github.com/kbretrieval/core/internal/providers"
	"github.com/kbretrieval/core/internal/utils"
)

// Config names one Ollama endpoint and model pairing.
type Config struct {
	BaseURL   string
	Model     string
	Dimension int
}

// Client implements interfaces.Embedder and interfaces.LLM against an
// Ollama server's /api/embed and /api/generate endpoints.
type Client struct {
	cfg   Config
	sdk   *ollamaapi.Client
	retry providers.RetryPolicy
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:11434"
	}
	if ok, reason := utils.IsSSRFSafeURL(cfg.BaseURL); !ok {
		return nil, fmt.Errorf("ollama provider base_url rejected: %s", reason)
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama provider base_url: %w", err)
	}
	httpClient := utils.NewSSRFSafeHTTPClient(utils.DefaultSSRFSafeHTTPClientConfig())
	sdk := ollamaapi.NewClient(u, httpClient)
	return &Client{cfg: cfg, sdk: sdk, retry: providers.DefaultRetryPolicy()}, nil
}

func (c *Client) Name() string { return "ollama:" + c.cfg.Model }

func (c *Client) Dimensions() int { return c.cfg.Dimension }

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	call := func(ctx context.Context) error {
		resp, err := c.sdk.Embed(ctx, &ollamaapi.EmbedRequest{Model: c.cfg.Model, Input: texts})
		if err != nil {
			return err
		}
		out = sanitizeEmbeddings(resp.Embeddings)
		return nil
	}
	if err := providers.WithRetry(ctx, c.retry, c.Name(), call); err != nil {
		return nil, err
	}
	return out, nil
}

// sanitizeEmbeddings replaces NaN/Inf components with 0, the defense the
// teacher's OllamaEmbedder applies against malformed model output.
func sanitizeEmbeddings(in [][]float32) [][]float32 {
	out := make([][]float32, len(in))
	for i, vec := range in {
		sanitized := make([]float32, len(vec))
		for j, v := range vec {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				sanitized[j] = 0
			} else {
				sanitized[j] = v
			}
		}
		out[i] = sanitized
	}
	return out
}

func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var text string
	stream := false
	call := func(ctx context.Context) error {
		opts := map[string]any{"num_predict": maxTokens}
		req := &ollamaapi.GenerateRequest{Model: c.cfg.Model, Prompt: prompt, Stream: &stream, Options: opts}
		return c.sdk.Generate(ctx, req, func(resp ollamaapi.GenerateResponse) error {
			text += resp.Response
			return nil
		})
	}
	if err := providers.WithRetry(ctx, c.retry, c.Name(), call); err != nil {
		return "", err
	}
	return text, nil
}
