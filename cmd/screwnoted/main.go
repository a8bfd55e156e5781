// Command screwnoted runs the shared collaboration server backing
// network-http sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/h0pes/screw.nvim-sub001/pkg/server"
)

func main() {
	var (
		addr    = flag.String("addr", ":8090", "Listen address")
		dsn     = flag.String("dsn", os.Getenv("SCREWNOTED_DSN"), "PostgreSQL DSN")
		verbose = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	if err := run(*addr, *dsn, logger); err != nil {
		logger.Fatal().Err(err).Msg("screwnoted exited")
	}
}

func run(addr, dsn string, logger zerolog.Logger) error {
	if dsn == "" {
		return fmt.Errorf("database DSN required (set -dsn or SCREWNOTED_DSN)")
	}

	db, err := server.Open(dsn)
	if err != nil {
		return err
	}
	srv, err := server.New(db, logger)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
