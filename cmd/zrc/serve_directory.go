package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zrcore/zrc/internal/config"
	"github.com/zrcore/zrc/internal/crypto"
	"github.com/zrcore/zrc/internal/directory"
	"github.com/zrcore/zrc/internal/logging"
	"github.com/zrcore/zrc/internal/ratelimit"
)

func newServeDirectoryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Run the directory server (spec §4.10): signed presence records and discovery tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runDirectory(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./zrc.yaml", "Path to configuration file")
	return cmd
}

func runDirectory(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger("info", "json")

	signPriv, signPub, err := decodeSigningKey(cfg.Directory.JWTSigningKey)
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}

	store := directory.NewStore()
	tokens := directory.NewTokenIssuer(signPriv, signPub)

	limiter := ratelimit.New(ratelimit.Limits{
		Window:       cfg.RateLimit.WindowDuration,
		PairingLimit: cfg.RateLimit.PairingAttemptsPerMinute,
		SessionLimit: cfg.RateLimit.SessionRequestsPerMinute,
		BaseBackoff:  cfg.RateLimit.BaseBackoff,
		MaxBackoff:   cfg.RateLimit.MaxBackoff,
	}, cfg.RateLimit.Allowlist)

	srvCfg := directory.ServerConfig{
		Address:          cfg.Directory.ListenAddr,
		SearchProtection: directory.DefaultSearchProtectionConfig(),
		RateLimit: func(source string, now time.Time) (time.Duration, error) {
			return limiter.Allow(source, ratelimit.Session, now)
		},
	}
	server := directory.NewServer(srvCfg, store, tokens, logger)

	if err := server.Start(); err != nil {
		return fmt.Errorf("start directory server: %w", err)
	}
	fmt.Printf("directory server listening on %s\n", server.Address())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
		fmt.Println("shutting down directory server...")
	case <-ctx.Done():
	}
	return server.Stop()
}

// decodeSigningKey parses a hex-encoded 64-byte Ed25519 private key and
// derives its public half.
func decodeSigningKey(hexKey string) (priv [crypto.Ed25519PrivateKeySize]byte, pub [crypto.Ed25519PublicKeySize]byte, err error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != crypto.Ed25519PrivateKeySize {
		return priv, pub, fmt.Errorf("jwt_signing_key must be a %d-byte hex-encoded Ed25519 private key", crypto.Ed25519PrivateKeySize)
	}
	copy(priv[:], raw)
	return priv, crypto.PublicKeyFromPrivate(priv), nil
}
