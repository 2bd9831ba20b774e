package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erauner12/fieldsync/internal/diagnostics"
	"github.com/erauner12/fieldsync/internal/offline"
	"github.com/erauner12/fieldsync/internal/syncsession"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep the local store in sync until interrupted",
	Long: `Run the sync layer: restore the session, connect replication, retry
offline writes and watch the network until SIGINT or SIGTERM.

Sign in first with "fieldsync login" unless dev mode is enabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		log.Info().
			Str("version", version).
			Str("syncEndpoint", cfg.SyncEndpoint).
			Str("dataDir", cfg.DataDir).
			Bool("devMode", cfg.DevMode).
			Msg("starting fieldsync")

		a.session.OnStateChange(func(s syncsession.Snapshot) {
			ev := log.Info()
			if s.State == syncsession.StateDisconnectedError || s.State == syncsession.StateSessionExpired {
				ev = log.Warn()
			}
			ev.Str("state", string(s.State)).Str("message", s.Message).Msg("sync state changed")
		})

		go a.network.Run(ctx)
		a.session.Start(ctx)

		// Writes queued by an earlier run are retried right away
		a.exec.Submit("sync-pending-inserts", func(ctx context.Context) error {
			a.guarantee.SyncPendingInserts(ctx)
			return nil
		})
		go (&offline.Scheduler{Guarantee: a.guarantee, Interval: cfg.Offline.RetryInterval}).Run(ctx)

		var diag *http.Server
		if cfg.Diagnostics.Addr != "" {
			srv := &diagnostics.Server{
				Session:   a.session,
				Pending:   a.guarantee,
				CrudCount: a.db.CrudCount,
			}
			diag = &http.Server{
				Addr:         cfg.Diagnostics.Addr,
				Handler:      srv.Routes(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 90 * time.Second, // resync waits for the first download
			}
			go func() {
				log.Info().Str("addr", cfg.Diagnostics.Addr).Msg("starting diagnostics server")
				if err := diag.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("diagnostics server failed")
				}
			}()
		}

		<-ctx.Done()
		log.Info().Msg("shutting down gracefully...")

		if diag != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := diag.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("diagnostics server shutdown error")
			}
		}
		a.session.Disconnect(context.Background())

		log.Info().Msg("fieldsync stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
