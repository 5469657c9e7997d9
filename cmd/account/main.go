package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"progress/internal/account/config"
	internalhttp "progress/internal/account/http"
	"progress/internal/account/repository"
	"progress/internal/db"
	"progress/internal/web"
)

func main() {
	cfg := config.Load()
	log := web.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("db connection failed")
	}
	defer pool.Close()

	server, err := internalhttp.NewServer(cfg, repository.NewStore(pool))
	if err != nil {
		log.WithError(err).Fatal("server init failed")
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("account http listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}
