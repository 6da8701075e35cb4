package llm

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// DefaultCompletionsBaseURL points at a locally served OpenAI-compatible endpoint (vLLM default).
const DefaultCompletionsBaseURL = "http://localhost:8000/v1"

// ClientOptions controls how the completions client is initialised.
type ClientOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Client runs raw-text completions against an OpenAI-compatible server.
type Client struct {
	completions completionClient
	models      modelClient
	logger      *logrus.Logger
	baseURL     string
}

var _ Backend = (*Client)(nil)

type completionClient interface {
	New(ctx context.Context, body openai.CompletionNewParams, opts ...option.RequestOption) (*openai.Completion, error)
}

type modelClient interface {
	Get(ctx context.Context, model string, opts ...option.RequestOption) (*openai.Model, error)
}

// NewClient constructs a Client for the configured endpoint. Servers on the local machine
// may be used without an API key.
func NewClient(opts ClientOptions) (*Client, error) {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultCompletionsBaseURL
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil || parsedURL.Host == "" {
		return nil, eris.Errorf("invalid llm base URL: %s", baseURL)
	}
	if strings.TrimSpace(opts.APIKey) == "" && !isLoopbackHost(parsedURL.Hostname()) {
		return nil, eris.Errorf("llm api key is required for remote endpoint %s", baseURL)
	}

	requestOptions := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(baseURL),
	}

	if opts.HTTPClient != nil {
		requestOptions = append(requestOptions, option.WithHTTPClient(opts.HTTPClient))
	}

	apiClient := openai.NewClient(requestOptions...)

	return &Client{
		completions: &apiClient.Completions,
		models:      &apiClient.Models,
		logger:      opts.Logger,
		baseURL:     baseURL,
	}, nil
}

// BaseURL returns the configured base URL for outbound requests.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Load checks that the server serves the named model.
func (c *Client) Load(ctx context.Context, model string) error {
	trimmed := strings.TrimSpace(model)
	if trimmed == "" {
		return eris.New("model name is required")
	}

	served, err := c.models.Get(ctx, trimmed)
	if err != nil {
		return eris.Wrapf(err, "resolving model %s", trimmed)
	}
	if served == nil || served.ID == "" {
		return eris.Errorf("model not found: %s", trimmed)
	}
	return nil
}

// Complete requests a single completion with the prompt echoed back in front of the generated text.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	cfg := req.Config

	temperature := cfg.Temperature
	if !cfg.DoSample {
		temperature = 0
	}

	params := openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(req.Model),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(req.Prompt)},
		Echo:        openai.Bool(true),
		MaxTokens:   openai.Int(int64(req.MaxNewTokens())),
		N:           openai.Int(int64(cfg.NumReturnSequences)),
		Temperature: openai.Float(temperature),
		TopP:        openai.Float(cfg.TopP),
	}

	// Sampling knobs outside the OpenAI schema; vLLM and TGI read them from the request body.
	extra := []option.RequestOption{
		option.WithJSONSet("top_k", cfg.TopK),
		option.WithJSONSet("no_repeat_ngram_size", cfg.NoRepeatNgramSize),
		option.WithJSONSet("do_sample", cfg.DoSample),
	}

	completion, err := c.completions.New(ctx, params, extra...)
	if err != nil {
		return "", eris.Wrap(err, "requesting completion")
	}

	if completion == nil || len(completion.Choices) == 0 {
		return "", eris.New("llm completion returned no choices")
	}

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"model":         req.Model,
			"finish_reason": completion.Choices[0].FinishReason,
			"max_tokens":    req.MaxNewTokens(),
		}).Debug("completion received")
	}

	return completion.Choices[0].Text, nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
