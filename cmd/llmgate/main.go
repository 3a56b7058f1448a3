package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ineyio/llmgate"
)

func main() {
	configPath := flag.String("config", os.Getenv("LLMGATE_CONFIG"), "Path to YAML config (empty = defaults)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	app, err := build(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("build", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop <- syscall.SIGTERM
		}
	}()

	logger.Info("llmgate listening",
		"addr", cfg.Listen,
		"store", cfg.Store.Driver,
		"license", cfg.License.Mode,
		"secrets", cfg.Secrets.Source,
	)

	<-stop
	logger.Info("shutting down")

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func loadConfig(path string) (llmgate.Config, error) {
	if path == "" {
		return llmgate.ParseConfig(nil)
	}
	return llmgate.LoadConfig(path)
}
