package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zrcore/zrc/internal/config"
	"github.com/zrcore/zrc/internal/logging"
	"github.com/zrcore/zrc/internal/mailbox"
	"github.com/zrcore/zrc/internal/ratelimit"
)

func newServeMailboxCmd() *cobra.Command {
	var (
		configPath  string
		bearerToken string
	)

	cmd := &cobra.Command{
		Use:   "mailbox",
		Short: "Run the mailbox server (spec §6): store-and-forward envelope delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runMailbox(cmd.Context(), cfg, bearerToken)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./zrc.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&bearerToken, "bearer-token", "", "If set, require this exact bearer token on every request")
	return cmd
}

func runMailbox(ctx context.Context, cfg *config.Config, bearerToken string) error {
	logger := logging.NewLogger("info", "json")

	qcfg := mailbox.DefaultQueueConfig()
	if cfg.Mailbox.QueueDepth > 0 {
		qcfg.MaxQueueLength = cfg.Mailbox.QueueDepth
	}
	if cfg.Mailbox.MessageTTL > 0 {
		qcfg.MessageTTL = cfg.Mailbox.MessageTTL
	}
	store := mailbox.NewStore(qcfg)
	metrics := mailbox.NewMetrics(prometheus.DefaultRegisterer)

	limiter := ratelimit.New(ratelimit.Limits{
		Window:       cfg.RateLimit.WindowDuration,
		PairingLimit: cfg.RateLimit.PairingAttemptsPerMinute,
		SessionLimit: cfg.RateLimit.SessionRequestsPerMinute,
		BaseBackoff:  cfg.RateLimit.BaseBackoff,
		MaxBackoff:   cfg.RateLimit.MaxBackoff,
	}, cfg.RateLimit.Allowlist)

	srvCfg := mailbox.ServerConfig{
		Address: cfg.Mailbox.ListenAddr,
		RateLimit: func(source string, now time.Time) (time.Duration, error) {
			return limiter.Allow(source, ratelimit.Session, now)
		},
	}
	if cfg.Mailbox.MaxWaitMs > 0 {
		srvCfg.MaxLongPollMs = int64(cfg.Mailbox.MaxWaitMs)
	}
	if bearerToken != "" {
		expected := "Bearer " + bearerToken
		srvCfg.Authenticate = func(r *http.Request) bool {
			return r.Header.Get("Authorization") == expected
		}
	}

	server := mailbox.NewServer(srvCfg, store, metrics, logger)
	if err := server.Start(); err != nil {
		return fmt.Errorf("start mailbox server: %w", err)
	}
	fmt.Printf("mailbox server listening on %s\n", server.Address())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
		fmt.Println("shutting down mailbox server...")
	case <-ctx.Done():
	}
	return server.Stop()
}
