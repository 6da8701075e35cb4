package http

import (
	"context"

	"github.com/sirupsen/logrus"

	"chatbot/app/internal/history"
)

type contextKey string

const (
	requestIDContextKey contextKey = "chatbot/request-id"
	outcomeContextKey   contextKey = "chatbot/outcome"
)

// RequestIDFromContext extracts the request identifier from the context when available.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(requestIDContextKey).(string); ok {
		return value
	}
	return ""
}

// outcome collects what a handler answered so the access log can report it.
// Handlers run on the request goroutine, so it needs no locking.
type outcome struct {
	fields logrus.Fields
}

func withOutcome(ctx context.Context) (context.Context, *outcome) {
	o := &outcome{fields: logrus.Fields{}}
	return context.WithValue(ctx, outcomeContextKey, o), o
}

// annotateOutcome records the exchange kind and its found or failed flag. It is a no-op
// when the access log is disabled.
func annotateOutcome(ctx context.Context, exchange *history.Exchange) {
	o, ok := ctx.Value(outcomeContextKey).(*outcome)
	if !ok || exchange == nil {
		return
	}

	o.fields["kind"] = string(exchange.Kind)
	switch exchange.Kind {
	case history.KindGenerate:
		o.fields["failed"] = exchange.Failed
	case history.KindRetrieve:
		o.fields["found"] = exchange.Found
	}
}
