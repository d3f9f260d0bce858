package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zrcore/zrc/internal/config"
	"github.com/zrcore/zrc/internal/crypto"
	"github.com/zrcore/zrc/internal/identity"
	"github.com/zrcore/zrc/internal/logging"
	"github.com/zrcore/zrc/internal/relay"
)

func newServeRelayCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the relay server (spec §4.12): quota-bounded two-party forwarding",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runRelay(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./zrc.yaml", "Path to configuration file")
	return cmd
}

func runRelay(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger("info", "json")

	trusted := make(map[identity.ID][32]byte, len(cfg.Relay.TrustedSigners))
	for _, hexKey := range cfg.Relay.TrustedSigners {
		raw, err := hex.DecodeString(hexKey)
		if err != nil || len(raw) != crypto.Ed25519PublicKeySize {
			return fmt.Errorf("relay: invalid trusted_signers entry %q", hexKey)
		}
		var pub [crypto.Ed25519PublicKeySize]byte
		copy(pub[:], raw)
		trusted[identity.IDFromSignPub(pub)] = pub
	}
	lookup := func(deviceID [32]byte) ([32]byte, bool) {
		pub, ok := trusted[identity.ID(deviceID)]
		return pub, ok
	}

	manager := relay.NewManager(relay.DefaultAllocationLifetime, 4096)
	bandwidth := relay.NewBandwidthLimiter()
	metrics := relay.NewMetrics(prometheus.DefaultRegisterer)

	tlsConfig, err := loadServerTLS(cfg.Relay.TLS)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	srvCfg := relay.ServerConfig{
		Address:        cfg.Relay.ListenAddr,
		TLSConfig:      tlsConfig,
		AllocationTTL:  relay.DefaultAllocationLifetime,
		MaxAllocations: 4096,
	}
	server := relay.NewServer(srvCfg, manager, bandwidth, metrics, lookup, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(serveCtx) }()

	fmt.Printf("relay server listening on %s\n", cfg.Relay.ListenAddr)

	go func() {
		ticker := time.NewTicker(relay.DefaultEvictionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-serveCtx.Done():
				return
			case now := <-ticker.C:
				manager.EvictExpired(now)
			}
		}
	}()

	select {
	case <-stop:
		fmt.Println("shutting down relay server...")
		cancel()
		return server.Close()
	case err := <-errCh:
		return err
	}
}
