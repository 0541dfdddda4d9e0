/*
Package handler provides the HTTP handlers and routing setup for the chat server.

This file defines the main Router, applying CORS, request ids, logging and panic recovery,
and rate limiting connection attempts per client IP before the WebSocket upgrade.
*/
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"dogechat/internal/pkg/logx"
	"dogechat/internal/pkg/resp"
)

// handshakeTimeout bounds the WebSocket opening handshake.
const handshakeTimeout = 10 * time.Second

// Router sets up the HTTP routing table (chi.Router) for the chat server:
// GET /health and GET /ws (the chat stream).
func Router(deps *AppDeps) http.Handler {
	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")

			// Native clients send no Origin header.
			if origin == "" || deps.Config.IsDevelopment() {
				return true
			}

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
		AllowedOrigins: corsAllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]any{
			"status":       "ok",
			"participants": deps.Hub.Len(),
		})
	})

	wsHandler := http.Handler(HandleWebSocket(wsUpgrader, deps))
	if deps.ConnectLimiter != nil {
		wsHandler = deps.ConnectLimiter.Middleware(wsHandler)
	}
	r.Method(http.MethodGet, "/ws", wsHandler)

	return r
}
