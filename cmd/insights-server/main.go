package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"theravox/internal/chat"
	"theravox/internal/domain"
	"theravox/internal/insights"
	"theravox/internal/proxy"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	addr := cli.StringP("addr", "a", ":8000", "Listen address")
	provider := cli.String("provider", "groq", "Chat provider used for analysis")
	catalog := cli.String("providers", "", "Provider catalog file (built-in when empty)")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	if err := godotenv.Load(*envFile); err != nil {
		log.Debug("No env file loaded", "path", *envFile, "err", err)
	}

	httpClient, err := proxy.NewClient(*proxyAddr, 0)
	if err != nil {
		log.Error("Failed to set up proxy", "proxy", *proxyAddr, "err", err)
		os.Exit(1)
	}

	providers, err := chat.LoadCatalog(*catalog)
	if err != nil {
		log.Error("Failed to load providers", "err", err)
		os.Exit(1)
	}
	for i := range providers {
		providers[i].ResolveKey(os.Getenv)
	}
	client := chat.NewClient(providers, chat.Options{HTTPClient: httpClient})
	if !client.Has(domain.ProviderID(*provider)) {
		log.Error("Unknown provider", "provider", *provider, "known", client.Providers())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           insights.NewServer(client, domain.ProviderID(*provider)).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("Insights server started", "addr", *addr, "provider", *provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "err", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", "err", err)
	}
}
