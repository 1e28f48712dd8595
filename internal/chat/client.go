package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"theravox/internal/domain"
)

const DefaultTimeout = 30 * time.Second

type backend struct {
	provider Provider
	client   openai.Client
	badURL   error
}

// Client sends prompts to the catalog's providers. It implements
// ports.ChatBackend.
type Client struct {
	backends map[domain.ProviderID]*backend
	timeout  time.Duration
}

type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
}

func NewClient(providers []Provider, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	c := &Client{
		backends: make(map[domain.ProviderID]*backend, len(providers)),
		timeout:  opts.Timeout,
	}
	for _, p := range providers {
		b := &backend{provider: p}
		if _, err := p.endpoint(); err != nil {
			b.badURL = err
		} else {
			b.client = openai.NewClient(clientOptions(p, opts)...)
		}
		c.backends[p.ID] = b
	}
	return c
}

func clientOptions(p Provider, opts Options) []option.RequestOption {
	ro := []option.RequestOption{
		option.WithBaseURL(p.BaseURL),
		option.WithMaxRetries(0),
	}
	if opts.HTTPClient != nil {
		ro = append(ro, option.WithHTTPClient(opts.HTTPClient))
	}
	if strings.EqualFold(p.AuthHeader, "Authorization") {
		ro = append(ro, option.WithAPIKey(p.APIKey))
	} else {
		ro = append(ro,
			option.WithAPIKey(""),
			option.WithHeaderDel("Authorization"),
			option.WithHeader(p.AuthHeader, p.APIKey),
		)
	}
	return ro
}

// Has reports whether id is in the catalog.
func (c *Client) Has(id domain.ProviderID) bool {
	_, ok := c.backends[id]
	return ok
}

// Providers lists catalog ids.
func (c *Client) Providers() []domain.ProviderID {
	ids := make([]domain.ProviderID, 0, len(c.backends))
	for id := range c.backends {
		ids = append(ids, id)
	}
	return ids
}

// Send issues the composite prompt with the provider's system persona.
func (c *Client) Send(ctx context.Context, prompt string, id domain.ProviderID) (string, error) {
	b, err := c.backend(id)
	if err != nil {
		return "", err
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if b.provider.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(b.provider.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))
	return c.complete(ctx, b, messages)
}

// Summarize sends prompt as a lone user message.
func (c *Client) Summarize(ctx context.Context, prompt string, id domain.ProviderID) (string, error) {
	b, err := c.backend(id)
	if err != nil {
		return "", err
	}
	return c.complete(ctx, b, []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)})
}

func (c *Client) backend(id domain.ProviderID) (*backend, error) {
	b, ok := c.backends[id]
	if !ok {
		return nil, domain.NewError(domain.KindInvalidEndpoint, fmt.Errorf("unknown provider %q", id))
	}
	if b.badURL != nil {
		return nil, domain.NewError(domain.KindInvalidEndpoint, b.badURL)
	}
	return b, nil
}

func (c *Client) complete(ctx context.Context, b *backend, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(b.provider.Model),
	}
	if b.provider.MaxTokens > 0 {
		params.MaxTokens = openai.Int(b.provider.MaxTokens)
	}

	started := time.Now()
	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		err = classify(ctx, err)
		log.Debug("Chat completion failed", "provider", b.provider.ID, "kind", domain.KindOf(err), "elapsed", time.Since(started))
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", domain.ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", domain.ErrEmptyResponse
	}

	log.Debug("Chat completion", "provider", b.provider.ID, "chars", len(content), "elapsed", time.Since(started))
	return content, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewError(domain.KindTimeout, err)
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return domain.StatusError(apierr.StatusCode, err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.Is(err, context.Canceled) {
		return domain.NewError(domain.KindNetworkFailure, err)
	}

	return domain.NewError(domain.KindMalformedResponse, err)
}
