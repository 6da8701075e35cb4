package llm

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// DefaultModel is the pre-trained model the chatbot continues prompts with.
const DefaultModel = "facebook/opt-125m"

// continuationLength is the number of tokens a call may add on top of the prompt's word count.
const continuationLength = 10

// Generator continues prompts with a pre-trained language model.
type Generator interface {
	// Generate always returns text: the continuation, or ErrorSentinel on failure.
	Generate(ctx context.Context, prompt string) string
	GenerateResult(ctx context.Context, prompt string) Result
	Model() string
}

// Backend resolves models and runs inference for the generator.
type Backend interface {
	// Load fails when the model cannot be resolved by name.
	Load(ctx context.Context, model string) error
	// Complete returns the full generated sequence, prompt included.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// GenerationConfig holds the decoding parameters fixed at construction.
type GenerationConfig struct {
	// MaxLength bounds prompt plus continuation, in tokens. Requests may override it.
	MaxLength          int
	NumReturnSequences int
	DoSample           bool
	Temperature        float64
	TopK               int
	TopP               float64
	NoRepeatNgramSize  int
}

// DefaultGenerationConfig returns the sampling setup used when none is supplied.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxLength:          50,
		NumReturnSequences: 1,
		DoSample:           true,
		Temperature:        0.7,
		TopK:               50,
		TopP:               0.95,
		NoRepeatNgramSize:  2,
	}
}

// CompletionRequest is a single inference call handed to a Backend.
type CompletionRequest struct {
	Model  string
	Prompt string
	// MaxLength overrides Config.MaxLength when positive.
	MaxLength int
	Config    GenerationConfig
}

// MaxNewTokens converts the total length bound into a budget for generated tokens only,
// estimating the prompt's token count by its word count.
func (r CompletionRequest) MaxNewTokens() int {
	total := r.MaxLength
	if total <= 0 {
		total = r.Config.MaxLength
	}

	budget := total - len(strings.Fields(r.Prompt))
	if budget < 1 {
		budget = 1
	}
	return budget
}

// GeneratorOptions configures the generator.
type GeneratorOptions struct {
	Backend Backend
	Model   string
	// Config defaults to DefaultGenerationConfig when nil.
	Config *GenerationConfig
	Logger *logrus.Logger
}

type modelGenerator struct {
	backend Backend
	model   string
	config  GenerationConfig
	logger  *logrus.Logger
}

var _ Generator = (*modelGenerator)(nil)

// NewGenerator resolves the model through the backend and returns a ready Generator.
// A model that cannot be resolved fails construction.
func NewGenerator(ctx context.Context, opts GeneratorOptions) (Generator, error) {
	if opts.Backend == nil {
		return nil, eris.New("inference backend is required")
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	config := DefaultGenerationConfig()
	if opts.Config != nil {
		config = *opts.Config
	}
	if config.MaxLength <= 0 {
		return nil, eris.New("generation max length must be positive")
	}
	if config.NumReturnSequences <= 0 {
		config.NumReturnSequences = 1
	}

	if err := opts.Backend.Load(ctx, model); err != nil {
		return nil, eris.Wrapf(err, "loading model %s", model)
	}

	if opts.Logger != nil {
		opts.Logger.WithFields(logrus.Fields{
			"component":   "llm.generator",
			"model":       model,
			"max_length":  config.MaxLength,
			"temperature": config.Temperature,
			"top_k":       config.TopK,
			"top_p":       config.TopP,
		}).Info("generator ready")
	}

	return &modelGenerator{
		backend: opts.Backend,
		model:   model,
		config:  config,
		logger:  opts.Logger,
	}, nil
}

func (g *modelGenerator) Model() string {
	return g.model
}

func (g *modelGenerator) Generate(ctx context.Context, prompt string) string {
	return g.GenerateResult(ctx, prompt).String()
}

func (g *modelGenerator) GenerateResult(ctx context.Context, prompt string) Result {
	req := CompletionRequest{
		Model:     g.model,
		Prompt:    prompt,
		MaxLength: len(strings.Fields(prompt)) + continuationLength,
		Config:    g.config,
	}

	generated, err := g.complete(ctx, req)
	if err != nil {
		g.logError(logrus.Fields{"prompt_chars": utf8.RuneCountInString(prompt)}, err, "text generation failed")
		return Failed(err)
	}

	return Ok(stripPrompt(generated, prompt))
}

func (g *modelGenerator) complete(ctx context.Context, req CompletionRequest) (generated string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = eris.Errorf("inference panicked: %v", rec)
		}
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", eris.Wrap(ctxErr, "generation cancelled")
	}

	generated, err = g.backend.Complete(ctx, req)
	if err != nil {
		return "", eris.Wrap(err, "running inference")
	}
	return generated, nil
}

// stripPrompt drops as many leading characters as the prompt has. The offset is counted in
// characters, not tokens, so a tokenizer that does not round-trip the prompt exactly can
// leave the continuation starting mid-token.
func stripPrompt(generated, prompt string) string {
	offset := utf8.RuneCountInString(prompt)

	runes := []rune(generated)
	if offset >= len(runes) {
		return ""
	}
	return string(runes[offset:])
}

func (g *modelGenerator) logError(fields logrus.Fields, err error, message string) {
	if g.logger == nil || err == nil {
		return
	}

	entry := g.logger.WithField("error", err.Error()).WithField("model", g.model)
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
