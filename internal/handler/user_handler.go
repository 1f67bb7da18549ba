package handler

import (
	"net/http"

	"roomchat/internal/pkg/errs"
	"roomchat/internal/pkg/resp"
)

// HandleWhoAmI returns the identity behind the bearer token and whether it is online.
func HandleWhoAmI(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r)
		if !ok {
			resp.RespondError(w, errs.NewError(errs.ErrUnauthorized))
			return
		}

		resp.RespondSuccess(w, map[string]any{
			"username": identity.Username,
			"device":   identity.Device,
			"online":   deps.Chat.IsOnline(identity.Username),
		})
	}
}
