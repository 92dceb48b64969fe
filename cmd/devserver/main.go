package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/asr-client/internal/config"
	"github.com/zhouzirui/asr-client/internal/handler"
	"github.com/zhouzirui/asr-client/internal/service/backend"
	"github.com/zhouzirui/asr-client/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logCloser := utils.SetupLogOutput(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
	defer logCloser.Close()

	svc := backend.NewService()
	router := handler.NewRouter(svc, handler.RouterOptions{
		DisableTaskListing: cfg.DevServer.DisableTaskListing,
	})
	if cfg.DevServer.DisableTaskListing {
		log.Println("[devserver] task listing disabled, GET /asr/tasks answers 501")
	}

	startServer(ctx, cfg.DevServer, router)
}

func startServer(ctx context.Context, serverCfg config.DevServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("[devserver] listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
