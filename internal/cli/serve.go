package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/0neda/trackify/internal/config"
	"github.com/0neda/trackify/internal/httpapi"
	"github.com/0neda/trackify/internal/otel"
	"github.com/0neda/trackify/internal/store"
)

func newServeCmd() *cobra.Command {
	var addr string
	var noOtel bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Trackify HTTP server in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			if err := os.MkdirAll(home, 0o755); err != nil {
				return err
			}
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if cfg.Auth.Secret == "" {
				return errors.New("auth secret required (config auth.secret or TRACKIFY_JWT_SECRET)")
			}

			// Ensure DB schema exists before serving (SQLite only; Postgres migrates on connect).
			if cfg.DB.Driver != "postgres" {
				if err := store.EnsureSchema(home); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			srvOpts := httpapi.ServerOptions{
				Home:      home,
				Addr:      cfg.Addr,
				DBDriver:  cfg.DB.Driver,
				DBURL:     cfg.DB.URL,
				JWTSecret: cfg.Auth.Secret,
				TokenTTL:  cfg.Auth.TokenTTL,
			}
			if !noOtel {
				metricsHandler, err := otel.InitMeterProvider(ctx, "trackify")
				if err != nil {
					slog.Warn("otel init failed, using plain metrics", "err", err)
				} else {
					srvOpts.MetricsHandler = metricsHandler
					srvOpts.UseOtelHTTP = true
				}
			}

			app, err := httpapi.NewApp(srvOpts)
			if err != nil {
				return err
			}
			if !noOtel {
				_ = otel.InitMetricsWithTaskCount(ctx, func() map[string]int64 {
					counts, err := app.Store.CountTasksByStatus(context.Background())
					if err != nil {
						return nil
					}
					out := make(map[string]int64, len(counts))
					for status, n := range counts {
						out[string(status)] = n
					}
					return out
				})
			}

			slog.Info("server starting", "addr", cfg.Addr, "home", home, "db", cfg.DB.Driver)
			errCh := make(chan error, 1)
			go func() {
				errCh <- app.Server.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				_ = app.Server.Shutdown(shutdownCtx)
				return ctx.Err()
			case err := <-errCh:
				if err == nil || errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config, default :8080)")
	cmd.Flags().BoolVar(&noOtel, "no-otel", false, "Disable OpenTelemetry metrics")
	return cmd
}
