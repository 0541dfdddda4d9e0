/*
Package main is the entry point for the DogeChat server.

It is responsible for loading configuration, initializing the global logging system,
binding the chat server, and gracefully handling operating system interrupt signals
(SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dogechat/internal/configs"
	"dogechat/internal/pkg/logx"
	"dogechat/internal/server"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Str("listen_address", cfg.ListenAddress).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Float64("message_rate", cfg.MessageRate).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg)
	if err := srv.Listen(cfg.ListenAddress, cfg.Port); err != nil {
		logx.Fatal(err, "Server failed to start")
	}
	logx.Info(fmt.Sprintf("DogeChat server listening on ws://%s/ws", srv.Addr()))

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}
	srv.Close()

	logx.Info("Server gracefully stopped.")
}
