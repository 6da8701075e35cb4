package http

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"

	"chatbot/app/internal/db"
	"chatbot/app/internal/history"
	"chatbot/app/internal/http/templates"
	"chatbot/app/internal/retrieval"
)

const (
	homeSampleKeys   = 8
	homeErrorMessage = "We couldn't render the homepage."
)

type generateInput struct {
	Body struct {
		Prompt string `json:"prompt" doc:"Text the model continues. Not length checked." example:"I want"`
	}
}

type generateOutput struct {
	Body struct {
		Continuation string `json:"continuation" doc:"Generated text after the prompt, or \" [Error in generation]\""`
		Failed       bool   `json:"failed" doc:"True when the continuation is the error sentinel"`
	}
}

type retrieveInput struct {
	Query string `query:"q" doc:"Free text; any loaded key it contains, ignoring case, answers it" example:"Tell me about Hanni"`
}

type retrieveOutput struct {
	Body struct {
		Found  bool   `json:"found"`
		Answer string `json:"answer,omitempty" doc:"\"<key>: <fact>\" for the first matching key"`
	}
}

type factsOutput struct {
	Body struct {
		Count int              `json:"count"`
		Facts []retrieval.Fact `json:"facts"`
	}
}

type historyInput struct {
	Limit int `query:"limit" default:"20" minimum:"1" maximum:"100"`
}

type exchangeView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	RequestID string    `json:"request_id,omitempty"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Found     bool      `json:"found"`
	Failed    bool      `json:"failed"`
	CreatedAt time.Time `json:"created_at"`
}

type historyOutput struct {
	Body struct {
		Exchanges []exchangeView `json:"exchanges"`
	}
}

type healthResponse struct {
	Status int
	Body   struct {
		Status    string `json:"status"`
		Database  string `json:"database"`
		Generator string `json:"generator"`
		Facts     int    `json:"facts"`
	}
}

func (s *Server) registerHomeRoute() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-home",
		Method:      stdhttp.MethodGet,
		Path:        "/",
		Summary:     "Chatbot home",
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Landing page",
				Content: map[string]*huma.MediaType{
					htmlContentType: {Schema: &huma.Schema{Type: "string"}},
				},
			},
		},
	}, s.homeHandler)
}

func (s *Server) registerGenerateRoute() {
	huma.Post(s.api, "/generate", s.generateHandler, func(op *huma.Operation) {
		op.Summary = "Continue a prompt"
		op.Description = "Always answers 200. Inference failures return the error sentinel with failed=true."
	})
}

func (s *Server) registerRetrieveRoute() {
	huma.Get(s.api, "/retrieve", s.retrieveHandler, func(op *huma.Operation) {
		op.Summary = "Look up a fact by keyword"
	})
}

func (s *Server) registerFactsRoute() {
	huma.Get(s.api, "/facts", s.factsHandler, func(op *huma.Operation) {
		op.Summary = "List loaded facts in file order"
	})
}

func (s *Server) registerHistoryRoute() {
	huma.Get(s.api, "/history", s.historyHandler, func(op *huma.Operation) {
		op.Summary = "Recent exchanges"
	})
}

func (s *Server) registerHealthRoute() {
	huma.Get(s.api, "/healthz", s.healthHandler, func(op *huma.Operation) {
		op.Summary = "Health check"
	})
}

func (s *Server) homeHandler(ctx context.Context, _ *struct{}) (*htmlResponse, error) {
	facts := s.retriever.Facts()
	keys := make([]string, 0, homeSampleKeys)
	for _, fact := range facts {
		if len(keys) == homeSampleKeys {
			break
		}
		keys = append(keys, fact.Key)
	}

	body, err := renderComponent(ctx, templates.HomePage(templates.HomePageData{
		Model:      s.generator.Model(),
		FactCount:  len(facts),
		SampleKeys: keys,
	}))
	if err != nil {
		s.recordError(ctx, err, "rendering home page", nil)
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, homeErrorMessage), nil
	}

	return newHTMLResponse(stdhttp.StatusOK, body), nil
}

func (s *Server) renderErrorResponse(ctx context.Context, status int, message string) *htmlResponse {
	label := fmt.Sprintf("%d %s", status, stdhttp.StatusText(status))

	body, err := renderComponent(ctx, templates.ErrorPage(templates.ErrorPageData{
		StatusLabel: label,
		Message:     message,
	}))
	if err != nil {
		s.recordError(ctx, err, "rendering error page", logrus.Fields{"status": status})
		return &htmlResponse{
			Status:      status,
			ContentType: plainContentType,
			Body:        []byte(label + ": " + message),
		}
	}

	return newHTMLResponse(status, body)
}

func (s *Server) generateHandler(ctx context.Context, input *generateInput) (*generateOutput, error) {
	prompt := input.Body.Prompt
	result := s.generator.GenerateResult(ctx, prompt)

	out := &generateOutput{}
	out.Body.Continuation = result.String()
	out.Body.Failed = result.Err() != nil

	s.recordExchange(ctx, &history.Exchange{
		Kind:   history.KindGenerate,
		Input:  prompt,
		Output: out.Body.Continuation,
		Failed: out.Body.Failed,
	})

	return out, nil
}

func (s *Server) retrieveHandler(ctx context.Context, input *retrieveInput) (*retrieveOutput, error) {
	answer, found := s.retriever.Retrieve(input.Query)

	out := &retrieveOutput{}
	out.Body.Found = found
	out.Body.Answer = answer

	s.recordExchange(ctx, &history.Exchange{
		Kind:   history.KindRetrieve,
		Input:  input.Query,
		Output: answer,
		Found:  found,
	})

	return out, nil
}

func (s *Server) factsHandler(_ context.Context, _ *struct{}) (*factsOutput, error) {
	facts := s.retriever.Facts()

	out := &factsOutput{}
	out.Body.Count = len(facts)
	out.Body.Facts = facts
	return out, nil
}

func (s *Server) historyHandler(ctx context.Context, input *historyInput) (*historyOutput, error) {
	if s.history == nil {
		return nil, huma.Error503ServiceUnavailable("exchange history is not configured")
	}

	exchanges, err := s.history.ListRecent(ctx, input.Limit)
	if err != nil {
		s.recordError(ctx, err, "listing exchanges", logrus.Fields{"limit": input.Limit})
		return nil, huma.Error500InternalServerError("could not load exchange history")
	}

	out := &historyOutput{}
	out.Body.Exchanges = make([]exchangeView, 0, len(exchanges))
	for _, exchange := range exchanges {
		out.Body.Exchanges = append(out.Body.Exchanges, exchangeView{
			ID:        exchange.ID,
			Kind:      string(exchange.Kind),
			RequestID: exchange.RequestID,
			Input:     exchange.Input,
			Output:    exchange.Output,
			Found:     exchange.Found,
			Failed:    exchange.Failed,
			CreatedAt: exchange.CreatedAt,
		})
	}
	return out, nil
}

func (s *Server) healthHandler(ctx context.Context, _ *struct{}) (*healthResponse, error) {
	resp := &healthResponse{Status: stdhttp.StatusOK}
	resp.Body.Status = "ok"
	resp.Body.Generator = s.generator.Model()
	resp.Body.Facts = s.retriever.Len()
	resp.Body.Database = "disabled"

	if s.db == nil {
		return resp, nil
	}

	resp.Body.Database = "ok"
	if err := db.Ping(ctx, s.db); err != nil {
		s.recordError(ctx, err, "pinging database", nil)
		resp.Status = stdhttp.StatusServiceUnavailable
		resp.Body.Status = "degraded"
		resp.Body.Database = "error"
	}

	return resp, nil
}

// recordExchange reports the exchange to the access log and stores it when history is
// configured. Storage failures are logged only.
func (s *Server) recordExchange(ctx context.Context, exchange *history.Exchange) {
	annotateOutcome(ctx, exchange)
	if s.history == nil {
		return
	}

	exchange.RequestID = RequestIDFromContext(ctx)
	if err := s.history.Record(ctx, exchange); err != nil {
		s.recordError(ctx, err, "recording exchange", logrus.Fields{"kind": exchange.Kind})
	}
}
