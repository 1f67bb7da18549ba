package handler

import (
	"context"
	"net/http"

	"roomchat/internal/app/user"
	"roomchat/internal/pkg/errs"
	"roomchat/internal/pkg/req"
	"roomchat/internal/pkg/resp"
)

type contextKey string

const identityKey contextKey = "identity"

// RequireSession resolves the bearer token and stores the identity in the request context.
func RequireSession(sessions *user.Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := req.BearerToken(r)
			if token == "" {
				resp.RespondError(w, errs.NewError(errs.ErrUnauthorized))
				return
			}

			identity, err := sessions.Resolve(r.Context(), token)
			if err != nil {
				resp.RespondError(w, errs.NewError(errs.ErrUnauthorized))
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the identity stored by RequireSession.
func IdentityFromContext(r *http.Request) (user.Identity, bool) {
	identity, ok := r.Context().Value(identityKey).(user.Identity)
	return identity, ok
}
