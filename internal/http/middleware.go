package http

import (
	"context"
	"math"
	"net"
	stdhttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

const rateLimitMessage = "Too many requests. Please wait a moment and try again."

func (s *Server) requestIDMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		reqID := strings.TrimSpace(ctx.Header("X-Request-ID"))
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}

		goCtx := context.WithValue(ctx.Context(), requestIDContextKey, reqID)
		ctx = huma.WithContext(ctx, goCtx)
		ctx.SetHeader("X-Request-ID", reqID)

		if hub := sentry.GetHubFromContext(goCtx); hub != nil {
			hub.Scope().SetTag("request_id", reqID)
		}

		next(ctx)
	}
}

func (s *Server) rateLimitMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if s.rateLimiter == nil {
			next(ctx)
			return
		}

		req, _ := humago.Unwrap(ctx)
		if req == nil {
			next(ctx)
			return
		}

		ip := clientIPFromRequest(req)
		allowed, wait := s.rateLimiter.Allow(ip)
		if allowed {
			next(ctx)
			return
		}

		if s.logger != nil {
			fields := logrus.Fields{
				"ip":   ip,
				"path": req.URL.Path,
			}
			if requestID := RequestIDFromContext(ctx.Context()); requestID != "" {
				fields["request_id"] = requestID
			}
			s.logger.WithError(eris.New("rate limit exceeded")).WithFields(fields).Warn("request rate limited")
		}

		retryAfter := int(math.Ceil(wait.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		ctx.SetHeader("Retry-After", strconv.Itoa(retryAfter))

		if err := huma.WriteErr(s.api, ctx, stdhttp.StatusTooManyRequests, rateLimitMessage); err != nil {
			s.recordError(ctx.Context(), err, "writing rate limit response", logrus.Fields{"ip": ip})
		}
	}
}

// loggingMiddleware writes one access line per request. Generate and retrieve calls add
// their exchange kind and outcome through annotateOutcome.
func (s *Server) loggingMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if s.logger == nil {
			next(ctx)
			return
		}

		goCtx, outcome := withOutcome(ctx.Context())
		ctx = huma.WithContext(ctx, goCtx)

		start := time.Now()
		next(ctx)

		status := ctx.Status()
		if status == 0 {
			status = stdhttp.StatusOK
		}

		entry := s.logger.WithFields(logrus.Fields{
			"method":      ctx.Method(),
			"status":      status,
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
		})
		if op := ctx.Operation(); op != nil {
			entry = entry.WithField("operation", op.OperationID)
		}
		if requestID := RequestIDFromContext(goCtx); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		if len(outcome.fields) > 0 {
			entry = entry.WithFields(outcome.fields)
		}

		switch {
		case status >= 500:
			entry.Error("request failed")
		case outcome.fields["failed"] == true:
			entry.Warn("generation failed")
		default:
			entry.Info("request completed")
		}
	}
}

// recoveryMiddleware turns a handler panic into a 500 problem response and reports it once
// through recordError.
func (s *Server) recoveryMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			err, ok := rec.(error)
			if !ok {
				err = eris.Errorf("panic: %v", rec)
			}

			fields := logrus.Fields{"method": ctx.Method()}
			if op := ctx.Operation(); op != nil {
				fields["operation"] = op.OperationID
			}
			s.recordError(ctx.Context(), eris.Wrap(err, "handler panicked"), "panic recovered", fields)

			if writeErr := huma.WriteErr(s.api, ctx, stdhttp.StatusInternalServerError, "internal server error"); writeErr != nil {
				s.recordError(ctx.Context(), writeErr, "writing panic response", fields)
			}
		}()

		next(ctx)
	}
}

// sentryMiddleware gives each request its own hub so tags set while serving it stay scoped
// to its events.
func (s *Server) sentryMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if s.sentry == nil {
			next(ctx)
			return
		}

		hub := s.sentry.Clone()
		scope := hub.Scope()
		scope.SetTag("http.method", ctx.Method())
		if op := ctx.Operation(); op != nil {
			scope.SetTag("operation", op.OperationID)
		}
		scope.SetTag("model", s.generator.Model())
		if req, _ := humago.Unwrap(ctx); req != nil {
			scope.SetRequest(req)
		}

		ctx = huma.WithContext(ctx, sentry.SetHubOnContext(ctx.Context(), hub))
		next(ctx)
	}
}

// recordError logs the failure with the request id and forwards it to Sentry when configured.
func (s *Server) recordError(ctx context.Context, err error, message string, fields logrus.Fields) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if fields != nil {
			entry = entry.WithFields(fields)
		}
		if requestID := RequestIDFromContext(ctx); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		entry.Error(message)
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	if s.sentry != nil {
		s.sentry.CaptureException(err)
	}
}

func clientIPFromRequest(req *stdhttp.Request) string {
	if req == nil {
		return ""
	}

	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		if candidate := strings.TrimSpace(strings.Split(forwarded, ",")[0]); candidate != "" {
			return candidate
		}
	}

	if realIP := strings.TrimSpace(req.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
