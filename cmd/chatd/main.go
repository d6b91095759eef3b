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
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"llamachat/internal/ai"
	"llamachat/internal/chat"
	"llamachat/internal/config"
	"llamachat/internal/db"
	"llamachat/internal/httpapi"
)

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	log, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return log
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := newLogger(cfg.LogLevel)
	defer log.Sync()

	gdb, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	if err := chat.Migrate(gdb); err != nil {
		log.Fatal("migrate database", zap.Error(err))
	}

	policy := ai.IncompleteError
	if cfg.StreamIncomplete == "accept" {
		policy = ai.IncompleteAccept
	}
	wire := ai.NewClient(cfg.BaseURL, log, ai.WithIncompletePolicy(policy))

	svc := chat.NewService(chat.NewRepo(gdb), wire, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.LoadChats(ctx); err != nil {
		log.Warn("initial chat list load failed", zap.Error(err))
	}
	if err := svc.LoadModels(ctx); err != nil {
		log.Warn("model list unavailable at startup", zap.Error(err))
	}
	if cfg.DefaultModel != "" {
		svc.SelectModel(cfg.DefaultModel)
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.NewRouter(svc, wire, log),
	}

	go func() {
		log.Info("chatd listening", zap.String("addr", cfg.Addr), zap.String("endpoint", cfg.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
}
