package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvolkov/roomcast-server/internal/log"
	"github.com/mvolkov/roomcast-server/internal/proxy"
)

func main() {
	var (
		addr     string
		logLevel string
		routes   []string
	)

	rootCmd := &cobra.Command{
		Use:           "roomcast-proxy",
		Short:         "Host-based reverse proxy in front of roomcast backend instances",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.New(logLevel)

			table := make(map[string]string, len(routes))
			for _, route := range routes {
				host, target, ok := strings.Cut(route, "=")
				if !ok {
					return fmt.Errorf("invalid route %q, expected host=url", route)
				}
				table[host] = target
			}

			router, err := proxy.New(table, logger)
			if err != nil {
				return err
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           router,
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			serverErr := make(chan error, 1)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
					return
				}
				serverErr <- nil
			}()

			logger.Info().Str("addr", addr).Int("routes", len(table)).Msg("proxy listening")

			select {
			case err := <-serverErr:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return err
				}
				return <-serverErr
			}
		},
	}

	rootCmd.Flags().StringVar(&addr, "addr", ":8000", "listen address")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	rootCmd.Flags().StringSliceVar(&routes, "route", []string{"chat.localhost=http://127.0.0.1:3000"},
		"host=backend-url pair, repeatable")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
