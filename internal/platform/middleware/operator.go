package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "certifychain/pkg/domain-errors"
	"certifychain/pkg/platform/httputil"
	"certifychain/pkg/requestcontext"
)

const headerOperatorToken = "X-Operator-Token"

// RequireOperator guards operator-only routes with a shared token carried in
// X-Operator-Token. An empty configured token disables the routes entirely:
// a deployment that never set one must not expose them open. Comparison is
// constant-time.
func RequireOperator(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if token == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "operator endpoints are disabled"))
				return
			}
			presented := r.Header.Get(headerOperatorToken)
			if presented == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthenticated, "missing operator token"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.WarnContext(ctx, "operator token rejected",
					"request_id", requestcontext.RequestID(ctx),
					"remote_addr", r.RemoteAddr,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidCredential, "invalid operator token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
