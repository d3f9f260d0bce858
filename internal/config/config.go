// Package config provides configuration parsing and validation for zrc daemons.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a zrc daemon (host agent, directory
// server, mailbox server, or relay server). Daemons load only the sections
// that apply to them; unused sections are left at their zero value.
type Config struct {
	Identity  IdentityConfig  `yaml:"identity"`
	Pairing   PairingConfig   `yaml:"pairing"`
	Session   SessionConfig   `yaml:"session"`
	Transport TransportConfig `yaml:"transport"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Directory DirectoryConfig `yaml:"directory"`
	Relay     RelayConfig     `yaml:"relay"`
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	Audit     AuditConfig     `yaml:"audit"`
}

// IdentityConfig locates the long-term Ed25519/X25519 identity keypair on disk.
type IdentityConfig struct {
	// DataDir holds the persisted identity and pairing records.
	DataDir string `yaml:"data_dir"`
}

// PairingConfig controls invite lifetime and SAS verification behaviour.
type PairingConfig struct {
	InviteTTL       time.Duration `yaml:"invite_ttl"`
	SASDigits       int           `yaml:"sas_digits"`
	AllowReinvite   bool          `yaml:"allow_reinvite"`
}

// SessionConfig controls ticket lifetime and clock-skew tolerance.
type SessionConfig struct {
	TicketTTL        time.Duration `yaml:"ticket_ttl"`
	ClockSkewAllowed time.Duration `yaml:"clock_skew_allowed"`
}

// GlobalTLSConfig defines TLS material shared across a daemon's listeners
// and outbound connections. PEM fields take precedence over file paths,
// which lets a config be shipped either as paths-on-disk or fully inline.
type GlobalTLSConfig struct {
	CA    string `yaml:"ca"`
	CAPEM string `yaml:"ca_pem"`

	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
	CertPEM string `yaml:"cert_pem"`
	KeyPEM  string `yaml:"key_pem"`
}

// GetCAPEM returns the CA certificate PEM content, reading from file if necessary.
func (g *GlobalTLSConfig) GetCAPEM() ([]byte, error) {
	if g.CAPEM != "" {
		return []byte(g.CAPEM), nil
	}
	if g.CA != "" {
		return os.ReadFile(g.CA)
	}
	return nil, nil
}

// GetCertPEM returns the certificate PEM content, reading from file if necessary.
func (g *GlobalTLSConfig) GetCertPEM() ([]byte, error) {
	if g.CertPEM != "" {
		return []byte(g.CertPEM), nil
	}
	if g.Cert != "" {
		return os.ReadFile(g.Cert)
	}
	return nil, nil
}

// GetKeyPEM returns the private key PEM content, reading from file if necessary.
func (g *GlobalTLSConfig) GetKeyPEM() ([]byte, error) {
	if g.KeyPEM != "" {
		return []byte(g.KeyPEM), nil
	}
	if g.Key != "" {
		return os.ReadFile(g.Key)
	}
	return nil, nil
}

// HasCA returns true if a CA certificate is configured (file or inline PEM).
func (g *GlobalTLSConfig) HasCA() bool {
	return g.CA != "" || g.CAPEM != ""
}

// TransportConfig selects and tunes the transport ladder rungs available to
// a host agent: direct QUIC, relay-forwarded QUIC, and the mailbox fallback.
type TransportConfig struct {
	TLS GlobalTLSConfig `yaml:"tls"`

	// ALPN identifies the direct-QUIC leg. Default: "zrc/1".
	ALPN string `yaml:"alpn"`

	// ListenAddr is the address a host agent binds for direct QUIC.
	ListenAddr string `yaml:"listen_addr"`

	// RelayAddrs are candidate relay servers tried in order if direct
	// connection establishment fails or is blocked.
	RelayAddrs []string `yaml:"relay_addrs"`

	// MailboxURL is the fallback HTTPS mailbox endpoint used when neither
	// direct nor relayed QUIC can be established.
	MailboxURL string `yaml:"mailbox_url"`

	DialTimeout        time.Duration `yaml:"dial_timeout"`
	MaxIdleTimeout      time.Duration `yaml:"max_idle_timeout"`
	KeepAlivePeriod     time.Duration `yaml:"keepalive_period"`
}

// RateLimitConfig mirrors the per-source sliding window and backoff
// parameters applied to pairing and session establishment attempts.
type RateLimitConfig struct {
	PairingAttemptsPerMinute int           `yaml:"pairing_attempts_per_minute"`
	SessionRequestsPerMinute int           `yaml:"session_requests_per_minute"`
	WindowDuration           time.Duration `yaml:"window_duration"`
	BaseBackoff              time.Duration `yaml:"base_backoff"`
	MaxBackoff               time.Duration `yaml:"max_backoff"`
	Allowlist                []string      `yaml:"allowlist"`
}

// DirectoryConfig configures the directory server's HTTP API and
// discovery-token issuance.
type DirectoryConfig struct {
	ListenAddr    string        `yaml:"listen_addr"`
	TLS           GlobalTLSConfig `yaml:"tls"`
	RecordTTL     time.Duration `yaml:"record_ttl"`
	JWTSigningKey string        `yaml:"jwt_signing_key"`
	JWTIssuer     string        `yaml:"jwt_issuer"`
	TokenTTL      time.Duration `yaml:"token_ttl"`

	// Enumeration protection: distinct lookup keys allowed per source per window.
	LookupsPerWindow int           `yaml:"lookups_per_window"`
	LookupWindow     time.Duration `yaml:"lookup_window"`
}

// RelayConfig configures the relay server's allocation table, bandwidth
// shaping, and token verification.
type RelayConfig struct {
	ListenAddr      string          `yaml:"listen_addr"`
	TLS             GlobalTLSConfig `yaml:"tls"`
	TrustedSigners  []string        `yaml:"trusted_signers"` // hex Ed25519 public keys
	DefaultBandwidth int64          `yaml:"default_bandwidth_bytes_per_sec"`
	DefaultQuota    int64           `yaml:"default_quota_bytes"`
	TokenCacheTTL   time.Duration   `yaml:"token_cache_ttl"`
	QuotaWarnRatio  float64         `yaml:"quota_warn_ratio"`
}

// MailboxConfig configures the mailbox server's store-and-forward queue.
type MailboxConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	TLS          GlobalTLSConfig `yaml:"tls"`
	QueueDepth   int           `yaml:"queue_depth"`
	MessageTTL   time.Duration `yaml:"message_ttl"`
	MaxWaitMs    int           `yaml:"max_wait_ms"`
}

// AuditConfig configures the append-only signed audit log.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Transport.ALPN == "" {
		c.Transport.ALPN = "zrc/1"
	}
	if c.Transport.DialTimeout == 0 {
		c.Transport.DialTimeout = 10 * time.Second
	}
	if c.Transport.MaxIdleTimeout == 0 {
		c.Transport.MaxIdleTimeout = 60 * time.Second
	}
	if c.Transport.KeepAlivePeriod == 0 {
		c.Transport.KeepAlivePeriod = 30 * time.Second
	}
	if c.Pairing.InviteTTL == 0 {
		c.Pairing.InviteTTL = 10 * time.Minute
	}
	if c.Pairing.SASDigits == 0 {
		c.Pairing.SASDigits = 6
	}
	if c.Session.TicketTTL == 0 {
		c.Session.TicketTTL = 5 * time.Minute
	}
	if c.Session.ClockSkewAllowed == 0 {
		c.Session.ClockSkewAllowed = 5 * time.Minute
	}
	if c.RateLimit.PairingAttemptsPerMinute == 0 {
		c.RateLimit.PairingAttemptsPerMinute = 3
	}
	if c.RateLimit.SessionRequestsPerMinute == 0 {
		c.RateLimit.SessionRequestsPerMinute = 10
	}
	if c.RateLimit.WindowDuration == 0 {
		c.RateLimit.WindowDuration = time.Minute
	}
	if c.RateLimit.BaseBackoff == 0 {
		c.RateLimit.BaseBackoff = 5 * time.Second
	}
	if c.RateLimit.MaxBackoff == 0 {
		c.RateLimit.MaxBackoff = 5 * time.Minute
	}
	if c.Directory.RecordTTL == 0 {
		c.Directory.RecordTTL = time.Hour
	}
	if c.Directory.TokenTTL == 0 {
		c.Directory.TokenTTL = 5 * time.Minute
	}
	if c.Directory.LookupsPerWindow == 0 {
		c.Directory.LookupsPerWindow = 20
	}
	if c.Directory.LookupWindow == 0 {
		c.Directory.LookupWindow = time.Minute
	}
	if c.Relay.DefaultBandwidth == 0 {
		c.Relay.DefaultBandwidth = 4 << 20 // 4 MiB/s
	}
	if c.Relay.DefaultQuota == 0 {
		c.Relay.DefaultQuota = 1 << 30 // 1 GiB
	}
	if c.Relay.TokenCacheTTL == 0 {
		c.Relay.TokenCacheTTL = 30 * time.Second
	}
	if c.Relay.QuotaWarnRatio == 0 {
		c.Relay.QuotaWarnRatio = 0.9
	}
	if c.Mailbox.QueueDepth == 0 {
		c.Mailbox.QueueDepth = 256
	}
	if c.Mailbox.MessageTTL == 0 {
		c.Mailbox.MessageTTL = 24 * time.Hour
	}
	if c.Mailbox.MaxWaitMs == 0 {
		c.Mailbox.MaxWaitMs = 30_000
	}
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Session.ClockSkewAllowed < 0 {
		return fmt.Errorf("session.clock_skew_allowed must not be negative")
	}
	if c.RateLimit.MaxBackoff < c.RateLimit.BaseBackoff {
		return fmt.Errorf("rate_limit.max_backoff must be >= base_backoff")
	}
	if c.Relay.QuotaWarnRatio <= 0 || c.Relay.QuotaWarnRatio > 1 {
		return fmt.Errorf("relay.quota_warn_ratio must be in (0, 1]")
	}
	if c.Mailbox.QueueDepth <= 0 {
		return fmt.Errorf("mailbox.queue_depth must be positive")
	}
	return nil
}
