package handler

import (
	"errors"
	"net/http"

	"roomchat/internal/pkg/errs"
	"roomchat/internal/pkg/logx"
	"roomchat/internal/pkg/resp"
)

// DefaultRoom is searched when the request names no room.
const DefaultRoom = "main"

// HandleSearch runs a substring search over one room's archive.
func HandleSearch(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		room := query.Get("room")
		if room == "" {
			room = DefaultRoom
		}

		results, err := deps.Chat.Search(r.Context(), room, query.Get("q"))
		if err != nil {
			var customErr *errs.CustomError
			if errors.As(err, &customErr) {
				resp.RespondError(w, customErr)
				return
			}

			logx.Error(err, "search failed", "room", room)
			resp.RespondError(w, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, map[string]any{
			"results": results,
		})
	}
}
