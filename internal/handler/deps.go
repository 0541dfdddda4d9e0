package handler

import (
	"dogechat/internal/app/chat"
	"dogechat/internal/configs"
	"dogechat/internal/pkg/limiter"
)

// AppDeps bundles what the HTTP layer needs from the rest of the server.
type AppDeps struct {
	Hub            *chat.Hub
	Config         *configs.AppConfig
	ConnectLimiter *limiter.IPRateLimiter
}
