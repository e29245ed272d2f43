package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/danielvey/a2ubridge/api/responses"
	pkgerrors "github.com/danielvey/a2ubridge/pkg/errors"
	"github.com/danielvey/a2ubridge/pkg/logger"
)

const apiKeyHeader = "X-API-Key"

// APIKey validates the service API key and seeds the request context with a
// client fingerprint for downstream scoping.
func APIKey(expected string, logg *logger.Logger) func(http.Handler) http.Handler {
	expectedSum := sha256.Sum256([]byte(expected))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "api key not configured"))
				return
			}

			presented := strings.TrimSpace(r.Header.Get(apiKeyHeader))
			if presented == "" {
				raw := strings.TrimSpace(r.Header.Get("Authorization"))
				if strings.HasPrefix(strings.ToLower(raw), "key ") {
					presented = strings.TrimSpace(raw[4:])
				}
			}
			if presented == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			presentedSum := sha256.Sum256([]byte(presented))
			if subtle.ConstantTimeCompare(presentedSum[:], expectedSum[:]) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid api key"))
				return
			}

			clientID := hex.EncodeToString(presentedSum[:8])
			ctx := WithClientID(r.Context(), clientID)
			ctx = context.WithValue(ctx, ctxClientIP, clientIP(r))

			if logg != nil {
				ctx = logg.WithField(ctx, "client_id", clientID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
