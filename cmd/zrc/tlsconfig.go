package main

import (
	"crypto/tls"
	"fmt"

	"github.com/zrcore/zrc/internal/config"
)

// loadServerTLS builds a server-side tls.Config from a daemon's configured
// certificate and key, whether supplied as file paths or inline PEM.
func loadServerTLS(cfg config.GlobalTLSConfig) (*tls.Config, error) {
	certPEM, err := cfg.GetCertPEM()
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := cfg.GetKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	if len(certPEM) == 0 || len(keyPEM) == 0 {
		return nil, fmt.Errorf("tls.cert and tls.key (or their _pem equivalents) must be set")
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse certificate/key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}, nil
}
