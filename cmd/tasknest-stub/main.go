// Package main runs the in-memory TaskNest API for local development and
// end-to-end testing of the CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tasknest/tasknest-cli/internal/stubapi"
)

type serveFlags struct {
	addr       string
	secret     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:           "tasknest-stub",
		Short:         "Serve an in-memory TaskNest API",
		Long:          "Serve the task API and its auth gateway from memory, seeded with the demo accounts emilys/emilyspass and michaelw/michaelwpass.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().StringVar(&flags.secret, "secret", os.Getenv("TASKNEST_STUB_SECRET"), "Token signing secret (random when empty)")
	cmd.Flags().DurationVar(&flags.accessTTL, "access-ttl", stubapi.DefaultAccessTTL, "Access token lifetime")
	cmd.Flags().DurationVar(&flags.refreshTTL, "refresh-ttl", stubapi.DefaultRefreshTTL, "Refresh token lifetime")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Log every request")

	return cmd
}

func serve(ctx context.Context, flags serveFlags) error {
	level := zerolog.InfoLevel
	if flags.debug {
		level = zerolog.DebugLevel
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	secret := flags.secret
	if secret == "" {
		// Tokens do not survive a restart without a fixed secret.
		secret = uuid.NewString()
	}

	stub, err := stubapi.New(stubapi.Options{
		Secret:     []byte(secret),
		AccessTTL:  flags.accessTTL,
		RefreshTTL: flags.refreshTTL,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              flags.addr,
		Handler:           stub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", "http://"+flags.addr).Dur("access_ttl", flags.accessTTL).Msg("stub API listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
