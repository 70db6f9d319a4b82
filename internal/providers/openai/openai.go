// Package openai implements embedding/LLM/rerank provider clients over an
// OpenAI-compatible API (spec §6, §9). Grounded on the teacher's
// internal/models/chat remote_api.go RemoteAPIChat shape (openai.Client
// wrapping a configurable BaseURL/APIKey) generalized to the three
// provider capabilities this core needs rather than just chat.
package openai

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	openaisdk "github.com/sashabaranov/go-openai"
	"github.com/kbretrieval/core/internal/providers"
	"github.com/kbretrieval/core/internal/types/interfaces"
	"github.com/kbretrieval/core/internal/utils"
)

// Config names one credentialed OpenAI-compatible endpoint
// (SPEC_FULL.md's config.ModelEntry).
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	Secondary *Config
}

// Client implements interfaces.Embedder, interfaces.LLM, and
// interfaces.Reranker (rerank via a chat-completion scoring prompt, since
// the OpenAI API itself has no rerank endpoint; a true rerank model
// provider would implement interfaces.Reranker directly).
type Client struct {
	cfg       Config
	sdk       *openaisdk.Client
	secondary *Client
	retry     providers.RetryPolicy
}

// New builds a Client, validating cfg.BaseURL against SSRF before dialing
// it — the core accepts operator-configured endpoints, so the same
// defense the teacher applies to other outbound-URL configuration
// (internal/utils security.go's IsSSRFSafeURL) applies here.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL != "" {
		if ok, reason := utils.IsSSRFSafeURL(cfg.BaseURL); !ok {
			return nil, fmt.Errorf("openai provider base_url rejected: %s", reason)
		}
	}
	sdkCfg := openaisdk.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = cfg.BaseURL
	}
	sdkCfg.HTTPClient = utils.NewSSRFSafeHTTPClient(utils.DefaultSSRFSafeHTTPClientConfig())
	c := &Client{cfg: cfg, sdk: openaisdk.NewClientWithConfig(sdkCfg), retry: providers.DefaultRetryPolicy()}
	if cfg.Secondary != nil {
		sec, err := New(*cfg.Secondary)
		if err != nil {
			return nil, fmt.Errorf("openai provider secondary credentials: %w", err)
		}
		c.secondary = sec
	}
	return c, nil
}

func (c *Client) Name() string { return "openai:" + c.cfg.Model }

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
		resp, err := c.sdk.CreateEmbeddings(ctx, openaisdk.EmbeddingRequestStrings{
			Input: texts,
			Model: openaisdk.EmbeddingModel(c.cfg.Model),
		})
		if err != nil {
			return err
		}
		out = make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			out[i] = d.Embedding
		}
		return nil
	}
	err := providers.WithFailover(ctx, c.Name(),
		func(ctx context.Context) error { return providers.WithRetry(ctx, c.retry, c.Name(), call) },
		c.secondaryBatchEmbed(ctx, texts, &out))
	return out, err
}

func (c *Client) secondaryBatchEmbed(ctx context.Context, texts []string, out *[][]float32) func(context.Context) error {
	if c.secondary == nil {
		return nil
	}
	return func(ctx context.Context) error {
		vecs, err := c.secondary.BatchEmbed(ctx, texts)
		if err != nil {
			return err
		}
		*out = vecs
		return nil
	}
}

func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var text string
	call := func(ctx context.Context) error {
		resp, err := c.sdk.CreateChatCompletion(ctx, openaisdk.ChatCompletionRequest{
			Model:     c.cfg.Model,
			MaxTokens: maxTokens,
			Messages: []openaisdk.ChatCompletionMessage{
				{Role: openaisdk.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("openai: empty completion response")
		}
		text = resp.Choices[0].Message.Content
		return nil
	}
	var secondary func(context.Context) error
	if c.secondary != nil {
		secondary = func(ctx context.Context) error {
			t, err := c.secondary.Complete(ctx, prompt, maxTokens)
			text = t
			return err
		}
	}
	err := providers.WithFailover(ctx, c.Name(),
		func(ctx context.Context) error { return providers.WithRetry(ctx, c.retry, c.Name(), call) },
		secondary)
	return text, err
}

// Rerank scores each candidate with a single chat-completion call that
// asks the model for a 0-1 relevance score, since plain OpenAI-compatible
// chat/embedding endpoints expose no dedicated rerank API. A provider
// fronting a real rerank model implements interfaces.Reranker directly
// instead of going through this fallback.
func (c *Client) Rerank(ctx context.Context, query string, candidates []interfaces.RerankCandidate) ([]interfaces.RerankResult, error) {
	results := make([]interfaces.RerankResult, 0, len(candidates))
	for _, cand := range candidates {
		prompt := fmt.Sprintf(
			"Query: %s\nCandidate: %s\nScore the candidate's relevance to the query from 0.0 (irrelevant) to 1.0 (perfectly relevant). Reply with only the number.",
			query, cand.Text)
		text, err := c.Complete(ctx, prompt, 8)
		if err != nil {
			return nil, err
		}
		results = append(results, interfaces.RerankResult{ID: cand.ID, Score: parseScore(text)})
	}
	return results, nil
}

// parseScore extracts a float in [0,1] from a model's free-text reply,
// defaulting to 0 when the reply isn't parseable as a number.
func parseScore(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	fields := strings.Fields(text)
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
