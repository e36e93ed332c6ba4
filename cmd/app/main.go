package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parcmarket/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize("configs/config.yaml"); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Background workers: ws hub, alert drain, quote push
	go bootstrap.Hub.Run(ctx)
	bootstrap.Alerts.Start(ctx)
	bootstrap.Quotes.Start(ctx)

	// 5. The pricing engine loop (single writer over price state)
	go func() {
		if err := bootstrap.Engine.Run(ctx); err != nil {
			slog.Error("Engine loop exited", slog.Any("error", err))
		}
	}()
	slog.InfoContext(ctx, "✅ Pricing engine started")

	// 6. Market API
	go func() {
		if err := bootstrap.Server.Start(); err != nil {
			slog.Error("❌ Market API failed", slog.Any("error", err))
			stop()
		}
	}()

	slog.InfoContext(ctx, "✨ PARC market engine fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bootstrap.Server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", slog.Any("error", err))
	}
}
