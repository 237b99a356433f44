package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gocompile/pkg/config"
	"gocompile/pkg/server"
)

// The server keeps one pipeline store per browser session and persists
// their artifacts in the configured backend.
func main() {
	cfg, err := config.FromFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := cfg.OpenBackend(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %s artifact store: %v\n", cfg.Persist.Backend, err)
		os.Exit(1)
	}
	defer closeBackend()

	srv := server.New(cfg.PipelineOptions(nil, nil), backend, nil)
	srv.MaxSessions = cfg.MaxSessions
	srv.IdleTimeout = time.Duration(cfg.SessionIdle)
	httpSrv := &http.Server{Addr: cfg.Listen, Handler: srv.Handler()}

	errc := make(chan error, 1)
	go func() { errc <- httpSrv.ListenAndServe() }()
	log.Printf("listening on %s", cfg.Listen)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Printf("serve: %v", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if err := srv.Close(); err != nil {
		log.Printf("flush: %v", err)
	}
}
