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

	"roadwatch/internal/auth"
	"roadwatch/internal/config"
	"roadwatch/internal/engine"
	"roadwatch/internal/handlers"
	"roadwatch/internal/store"
	"roadwatch/pkg/realtime"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []engine.Option
	var db *store.Store
	if cfg.DBPath != "" {
		var err error
		db, err = store.Open(ctx, cfg.DBPath)
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close()
		opts = append(opts, engine.WithArchive(db))
	}

	eng, err := engine.New(cfg.Engine, opts...)
	if err != nil {
		log.Fatal(err)
	}

	if db != nil {
		alerts, reports, err := db.Recover(ctx, time.Now().UTC(), cfg.Engine.ReportWindow)
		if err != nil {
			log.Fatal(err)
		}
		eng.Restore(alerts, reports)

		purge := realtime.NewLoop("purge", time.Hour, func(now time.Time) {
			pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			n, err := db.Purge(pctx, now.Add(-cfg.Retention))
			if err != nil {
				log.Printf("[purge] failed: %v", err)
				return
			}
			if n > 0 {
				log.Printf("[purge] removed=%d", n)
			}
		})
		purge.Start(ctx)
		defer purge.Stop()
	}

	eng.Start(ctx)

	authn := auth.NewAuthenticator(cfg.JWTSecret, cfg.AllowAnonymous)
	server := &http.Server{
		Addr:              cfg.Port,
		Handler:           handlers.NewRouter(eng, authn),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// sockets and the event stream stay open, so no write timeout
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("listening on http://localhost%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	// Closing every queue first lets socket write loops send a close frame.
	eng.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
