package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"arsa/api"
)

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func main() {
	args := ParseArgs()
	if !args.Validate() {
		panic("missing arguments")
	}
	logger := newLogger(args.LogLevel, args.LogFormat)
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := api.NewServer(ctx, args.ServerConfig, api.WithLogger(logger))
	if err != nil {
		panic(err)
	}
	defer server.Close()
	server.Start()

	httpServer := &http.Server{
		Addr:    args.ServerURL,
		Handler: server.Router(),
	}
	go func() {
		logger.Info("Listening", slog.String("addr", args.ServerURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Fail to serve http", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Fail to shutdown http server", slog.Any("error", err))
	}
}
