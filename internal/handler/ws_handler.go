/*
Package handler provides the HTTP handler function for WebSocket connection upgrading.

This file contains HandleWebSocket, which upgrades the HTTP connection and hands it to the
chat hub for the rest of its life.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dogechat/internal/pkg/errs"
	"dogechat/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc that upgrades the request and serves the
// resulting connection until it closes. Rate limiting is applied by the router.
func HandleWebSocket(upgrader websocket.Upgrader, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		if !websocket.IsWebSocketUpgrade(r) {
			logger.Warn().Msg("Request to /ws without a WebSocket upgrade")
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams, "websocket upgrade required"))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}

		logger.Debug().Msg("WebSocket connection established")

		if err := deps.Hub.Serve(conn); err != nil {
			logger.Warn().Err(err).Msg("Connection refused by hub")
		}
	}
}
