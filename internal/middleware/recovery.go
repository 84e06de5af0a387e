package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/josh-kwaku/casino-wallet-core/internal/handler"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
)

// Recovery turns a handler panic into a 500 envelope. http.ErrAbortHandler
// is re-raised so net/http can abort the connection as the handler asked.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			logging.FromContext(r.Context()).Error("panic recovered",
				"error", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", TraceIDFromContext(r.Context()),
				"stack", string(debug.Stack()),
			)
			handler.RespondAppError(w, handler.ErrInternalError, nil)
		}()
		next.ServeHTTP(w, r)
	})
}
