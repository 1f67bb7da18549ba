/*
Package handler provides the HTTP handlers and routing for the chat server.
*/
package handler

import (
	"errors"
	"net/http"

	"roomchat/internal/app/user"
	"roomchat/internal/pkg/errs"
	"roomchat/internal/pkg/logx"
	"roomchat/internal/pkg/req"
	"roomchat/internal/pkg/resp"
)

type LoginInput struct {
	Username string `json:"username"`
	Device   string `json:"device,omitempty"`
}

// HandleLogin issues a device session token. Identity is claimed, not verified.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input LoginInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, customErr)
			return
		}

		token, identity, err := deps.Sessions.Issue(r.Context(), input.Username, input.Device)
		switch {
		case errors.Is(err, user.ErrInvalidUsername):
			resp.RespondError(w, errs.NewError(errs.ErrInvalidUsername))
			return
		case errors.Is(err, user.ErrInvalidDevice):
			resp.RespondError(w, errs.NewError(errs.ErrInvalidDevice))
			return
		case err != nil:
			logx.Error(err, "login: failed to issue session", "user", input.Username)
			resp.RespondError(w, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, map[string]any{
			"token":  token,
			"user":   identity.Username,
			"device": identity.Device,
		})
	}
}

type LogoutInput struct {
	Token string `json:"token,omitempty"`
}

// HandleLogout revokes the session named in the body or the Authorization header.
func HandleLogout(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := req.BearerToken(r)
		if token == "" {
			var input LogoutInput
			if customErr := req.BindJSON(w, r, &input); customErr != nil {
				resp.RespondError(w, customErr)
				return
			}
			token = input.Token
		}

		if token == "" {
			resp.RespondError(w, errs.NewError(errs.ErrInvalidParams))
			return
		}

		err := deps.Sessions.Revoke(r.Context(), token)
		if errors.Is(err, user.ErrUnknownSession) {
			resp.RespondError(w, errs.NewError(errs.ErrUnauthorized))
			return
		}
		if err != nil {
			logx.Error(err, "logout: failed to revoke session")
			resp.RespondError(w, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, nil)
	}
}
