package identity

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/acesso/pkg/observability"
)

// Middleware attaches the authenticated actor to the request context.
// Authentication failures do not reject the request: it continues
// anonymously and downstream permission checks deny it.
func Middleware(provider Provider, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := provider.Authenticate(r)
			if err != nil {
				if !errors.Is(err, ErrNoActor) {
					logger.WithError(err).WithField("path", r.URL.Path).Warn("rejected credentials")
				}
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
