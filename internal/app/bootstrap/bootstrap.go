package bootstrap

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"chatbot/app/internal/config"
	"chatbot/app/internal/db"
	"chatbot/app/internal/history"
	apphttp "chatbot/app/internal/http"
	"chatbot/app/internal/llm"
	applog "chatbot/app/internal/log"
	"chatbot/app/internal/retrieval"
)

type Dependencies struct {
	Config    config.Config
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
}

type Result struct {
	Generator  llm.Generator
	Retrieval  *retrieval.Retrieval
	History    history.Repository
	HTTPServer *apphttp.Server
	Database   *gorm.DB
	Cleanup    func() error
}

// Build composes the chatbot components and returns them ready to serve.
func Build(ctx context.Context, deps Dependencies) (Result, error) {
	cfg := deps.Config

	database, err := db.Open(db.Options{Path: cfg.DBPath, Logger: deps.Logger})
	if err != nil {
		return Result{}, eris.Wrap(err, "opening database")
	}

	closeOnError := func(wrapper error) (Result, error) {
		if closeErr := db.Close(database); closeErr != nil && deps.Logger != nil {
			deps.Logger.WithError(closeErr).Error("closing database after bootstrap failure")
		}
		return Result{}, wrapper
	}

	if err := history.Migrate(ctx, database, deps.Logger); err != nil {
		return closeOnError(eris.Wrap(err, "running history migrations"))
	}

	repo, err := history.NewRepository(database, deps.Logger)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating history repository"))
	}

	backend, err := newBackend(cfg, deps.Logger)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating inference backend"))
	}

	generator, err := llm.NewGenerator(ctx, llm.GeneratorOptions{
		Backend: backend,
		Model:   cfg.LLMModel,
		Logger:  deps.Logger,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising generator"))
	}

	facts, err := retrieval.New(cfg.FactsPath, deps.Logger)
	if err != nil {
		return closeOnError(eris.Wrap(err, "loading facts"))
	}

	httpServer, err := apphttp.NewServer(apphttp.Options{
		Generator: generator,
		Retriever: facts,
		History:   repo,
		Database:  database,
		Logger:    deps.Logger,
		SentryHub: deps.SentryHub,
		RateLimiter: apphttp.RateLimiterSettings{
			Burst:             cfg.RateLimit.Burst,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			ClientTTL:         cfg.RateLimit.ClientTTL,
		},
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising http server"))
	}

	if deps.Logger != nil {
		applog.Component(deps.Logger, "bootstrap").WithFields(logrus.Fields{
			"provider": cfg.LLMProvider,
			"model":    generator.Model(),
			"facts":    facts.Len(),
			"facts_at": facts.Path(),
		}).Info("application composed")
	}

	cleanup := func() error {
		httpServer.Close()
		return db.Close(database)
	}

	return Result{
		Generator:  generator,
		Retrieval:  facts,
		History:    repo,
		HTTPServer: httpServer,
		Database:   database,
		Cleanup:    cleanup,
	}, nil
}

func newBackend(cfg config.Config, logger *logrus.Logger) (llm.Backend, error) {
	switch cfg.LLMProvider {
	case config.ProviderOllama:
		return llm.NewOllamaClient(llm.OllamaOptions{
			BaseURL: cfg.LLMEndpoint,
			Logger:  logger,
		})
	case config.ProviderOpenAI, "":
		return llm.NewClient(llm.ClientOptions{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMEndpoint,
			Logger:  logger,
		})
	default:
		return nil, eris.Errorf("unsupported provider: %s", cfg.LLMProvider)
	}
}
