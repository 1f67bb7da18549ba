/*
Package handler provides the HTTP handlers and routing setup for the chat server.

This file defines the main Router, applying logging, CORS and IP-based rate
limiting before delegating requests to the API and WebSocket handlers.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"roomchat/internal/pkg/limiter"
	"roomchat/internal/pkg/logx"
	"roomchat/internal/pkg/metrics"
	"roomchat/internal/pkg/resp"
)

const (
	LoginRate    = 0.2
	LoginBurst   = 5
	UploadRate   = 0.5
	UploadBurst  = 5
	ConnectRate  = 0.5
	ConnectBurst = 10
)

// Limiters groups the per-IP limiters so the caller can stop their sweepers on shutdown.
type Limiters struct {
	Login   *limiter.IPRateLimiter
	Upload  *limiter.IPRateLimiter
	Connect *limiter.IPRateLimiter
}

// NewLimiters creates the limiters used by Router.
func NewLimiters() *Limiters {
	return &Limiters{
		Login:   limiter.NewIPRateLimiter(rate.Limit(LoginRate), LoginBurst),
		Upload:  limiter.NewIPRateLimiter(rate.Limit(UploadRate), UploadBurst),
		Connect: limiter.NewIPRateLimiter(rate.Limit(ConnectRate), ConnectBurst),
	}
}

// Stop halts every limiter's background sweep.
func (l *Limiters) Stop() {
	l.Login.Stop()
	l.Upload.Stop()
	l.Connect.Stop()
}

// Router sets up the main HTTP routing table for the application.
func Router(deps *AppDeps, limits *Limiters) http.Handler {
	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, map[string]any{
			"status":  "ok",
			"service": "roomchat",
			"online":  len(deps.Chat.Online()),
		})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(auth chi.Router) {
			auth.With(limits.Login.Middleware).Post("/login", HandleLogin(deps))
			auth.Post("/logout", HandleLogout(deps))
		})

		api.With(RequireSession(deps.Sessions)).Get("/user/me", HandleWhoAmI(deps))
		api.Get("/search", HandleSearch(deps))

		api.Route("/file", func(file chi.Router) {
			file.Use(RequireStorage(deps))

			file.Get("/presign-download", HandlePresignDownloadURL(deps))

			file.Group(func(authed chi.Router) {
				authed.Use(RequireSession(deps.Sessions))
				authed.Post("/presign-upload", HandlePresignUploadURL(deps))
				authed.With(limits.Upload.Middleware).Post("/upload", HandleUpload(deps))
			})
		})
	})

	r.With(limits.Connect.Middleware).Get("/ws", HandleWebSocket(deps, wsUpgrader))

	return r
}
