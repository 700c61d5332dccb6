package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	logLevel string
	opts     appOptions
)

var rootCmd = &cobra.Command{
	Use:           "nostr-feed",
	Short:         "Nostr feed client core: comments, profiles, reactions and rooms over relays",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return InitLogger(logLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.DBPath, "db", os.Getenv("NOSTR_FEED_DB"), "SQLite event database path (in-memory when empty)")
	rootCmd.PersistentFlags().StringVar(&opts.RedisURL, "redis", os.Getenv("REDIS_URL"), "Redis URL for the profile cache (in-memory when empty)")

	rootCmd.AddCommand(serveCmd, commentsCmd, profileCmd, reactionsCmd, reactCmd, roomsCmd, relaysCmd, loginCmd, logoutCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp builds the app for one command run and closes it afterwards
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	a.loadUserRelays(ctx)
	return fn(ctx, a)
}

// printJSON writes v to stdout, indented
func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *App) error {
			go func() {
				if err := a.info.RefreshSearchCapability(ctx, a.router); err != nil {
					slog.Debug("search capability refresh stopped", "error", err)
				}
			}()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						a.reloadRelays()
					}
				}
			}()

			srv := &http.Server{
				Addr:              serveAddr,
				Handler:           a.routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				slog.Info("starting server", "addr", serveAddr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			slog.Info("shutting down server")
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":"+envOr("PORT", "8080"), "listen address")
}
