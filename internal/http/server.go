package http

import (
	stdhttp "net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"chatbot/app/internal/history"
	"chatbot/app/internal/llm"
	"chatbot/app/internal/retrieval"
)

// Options configures the HTTP server wiring.
type Options struct {
	Generator llm.Generator
	Retriever retrieval.Retriever
	// History and Database are optional; without them exchanges are not recorded.
	History     history.Repository
	Database    *gorm.DB
	Logger      *logrus.Logger
	SentryHub   *sentry.Hub
	RateLimiter RateLimiterSettings
}

// RateLimiterSettings configures the HTTP rate limiter behaviour. The zero value disables it.
type RateLimiterSettings struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

func (s RateLimiterSettings) enabled() bool {
	return s != RateLimiterSettings{}
}

// Server exposes the generator and the fact lookup over a Huma API.
type Server struct {
	api         huma.API
	mux         *stdhttp.ServeMux
	generator   llm.Generator
	retriever   retrieval.Retriever
	history     history.Repository
	db          *gorm.DB
	logger      *logrus.Logger
	sentry      *sentry.Hub
	rateLimiter *RateLimiter
}

// NewServer constructs the HTTP server.
func NewServer(opts Options) (*Server, error) {
	if opts.Generator == nil {
		return nil, eris.New("generator is required")
	}
	if opts.Retriever == nil {
		return nil, eris.New("retriever is required")
	}

	mux := stdhttp.NewServeMux()
	config := huma.DefaultConfig("NewJeans Chatbot", "1.0.0")
	config.Info.Description = "Prompt continuation with a pre-trained model and keyword fact lookup."

	api := humago.New(mux, config)

	srv := &Server{
		api:       api,
		mux:       mux,
		generator: opts.Generator,
		retriever: opts.Retriever,
		history:   opts.History,
		db:        opts.Database,
		logger:    opts.Logger,
		sentry:    opts.SentryHub,
	}

	if settings := opts.RateLimiter; settings.enabled() {
		if settings.Burst <= 0 {
			return nil, eris.New("rate limiter burst must be greater than zero")
		}
		if settings.RequestsPerSecond <= 0 {
			return nil, eris.New("rate limiter requests per second must be greater than zero")
		}
		if settings.ClientTTL <= 0 {
			return nil, eris.New("rate limiter client TTL must be greater than zero")
		}
		srv.rateLimiter = NewRateLimiter(settings.Burst, settings.RequestsPerSecond, settings.ClientTTL)
	}

	srv.registerMiddlewares()
	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the underlying HTTP handler for wiring into the application.
func (s *Server) Handler() stdhttp.Handler {
	return s.mux
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
}

func (s *Server) registerMiddlewares() {
	s.api.UseMiddleware(
		s.sentryMiddleware(),
		s.recoveryMiddleware(),
		s.requestIDMiddleware(),
		s.rateLimitMiddleware(),
		s.loggingMiddleware(),
	)
}

func (s *Server) registerRoutes() {
	s.registerHomeRoute()
	s.registerGenerateRoute()
	s.registerRetrieveRoute()
	s.registerFactsRoute()
	s.registerHistoryRoute()
	s.registerHealthRoute()
}

func (s *Server) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.mux.ServeHTTP(w, r)
}
