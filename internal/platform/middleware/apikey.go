package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"certifychain/internal/domain"
	dErrors "certifychain/pkg/domain-errors"
	"certifychain/pkg/platform/httputil"
	"certifychain/pkg/requestcontext"
)

const headerAPIKey = "X-API-Key"

// KeyAuthenticator resolves a raw API key to its stored record. The apikey
// service implements this; the middleware stays free of storage concerns.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, rawKey string) (domain.APIKey, error)
}

// RequireAPIKey authenticates X-API-Key and enforces the given permission.
// A missing header is unauthenticated; an unknown, inactive, or mismatched
// key is invalid_credential so a probing caller cannot distinguish the cases;
// a known key without the permission is forbidden.
func RequireAPIKey(auth KeyAuthenticator, permission domain.Permission, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw := r.Header.Get(headerAPIKey)
			if raw == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthenticated, "missing API key"))
				return
			}

			key, err := auth.Authenticate(ctx, raw)
			if err != nil {
				logger.WarnContext(ctx, "API key authentication failed",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, err)
				return
			}
			if !key.Allows(permission) {
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "API key lacks the required permission"))
				return
			}

			ctx = requestcontext.WithAPIKeyID(ctx, key.ID)
			ctx = requestcontext.WithInstitutionID(ctx, key.InstitutionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
