package llm

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// DefaultOllamaBaseURL is the address a local Ollama daemon listens on.
const DefaultOllamaBaseURL = "http://localhost:11434"

const defaultOllamaTimeout = 120 * time.Second

// OllamaOptions configures the Ollama-backed inference client.
type OllamaOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// OllamaClient runs raw prompt continuations through an Ollama daemon.
type OllamaClient struct {
	api     ollamaAPI
	logger  *logrus.Logger
	baseURL string
}

var _ Backend = (*OllamaClient)(nil)

type ollamaAPI interface {
	Show(ctx context.Context, req *ollama.ShowRequest) (*ollama.ShowResponse, error)
	Generate(ctx context.Context, req *ollama.GenerateRequest, fn ollama.GenerateResponseFunc) error
}

// NewOllamaClient constructs an OllamaClient.
func NewOllamaClient(opts OllamaOptions) (*OllamaClient, error) {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid ollama base URL: %s", baseURL)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, eris.Errorf("ollama base URL must be absolute: %s", baseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultOllamaTimeout}
	}

	return &OllamaClient{
		api:     ollama.NewClient(parsedURL, httpClient),
		logger:  opts.Logger,
		baseURL: baseURL,
	}, nil
}

// BaseURL returns the daemon address.
func (c *OllamaClient) BaseURL() string {
	return c.baseURL
}

// Load asks the daemon to describe the model, which fails when it has not been pulled.
func (c *OllamaClient) Load(ctx context.Context, model string) error {
	trimmed := strings.TrimSpace(model)
	if trimmed == "" {
		return eris.New("model name is required")
	}

	if _, err := c.api.Show(ctx, &ollama.ShowRequest{Model: trimmed}); err != nil {
		return eris.Wrapf(err, "resolving model %s", trimmed)
	}
	return nil
}

// Complete runs the prompt in raw mode so no chat template is applied. Ollama only returns
// the new text, so the prompt is prepended to keep the Backend contract.
// Ollama has no n-gram blocking; NoRepeatNgramSize is not forwarded.
func (c *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	cfg := req.Config

	temperature := cfg.Temperature
	if !cfg.DoSample {
		temperature = 0
	}

	stream := false
	options := map[string]any{
		"num_predict": req.MaxNewTokens(),
		"temperature": temperature,
		"top_k":       cfg.TopK,
		"top_p":       cfg.TopP,
	}

	var builder strings.Builder
	err := c.api.Generate(ctx, &ollama.GenerateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Raw:     true,
		Stream:  &stream,
		Options: options,
	}, func(resp ollama.GenerateResponse) error {
		builder.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", eris.Wrap(err, "requesting ollama generation")
	}

	return req.Prompt + builder.String(), nil
}
