package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	platformlogging "github.com/zenGate-Global/dappbot-ops/platform/go/logging"
	"github.com/zenGate-Global/dappbot-ops/platform/go/requesttrace"
)

// RequestTrace populates the context with the trigger's TriggerInfo and scopes the request
// logger with it. It should run after chi's RequestID and the request logger.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := requesttrace.New(requesttrace.SourceHTTP, middleware.GetReqID(r.Context()))

		ctx := requesttrace.IntoContext(r.Context(), info)
		logger := platformlogging.FromContext(ctx, nil).With(info.Fields()...)
		ctx = platformlogging.WithLogger(ctx, logger)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
