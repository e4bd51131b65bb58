package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jmcleod/semigate/gateway"
	"github.com/jmcleod/semigate/session"
)

// Config carries the serve command's runtime settings.
type Config struct {
	ListenAddr string
	AdminAddr  string
	DataDir    string

	// Forwarder is the host:port of the UDP forwarder hop, empty when
	// replies always travel directly.
	Forwarder string

	// Secure enables the signed/encrypted payload envelope. SeedHex and
	// SecretHex hold the gateway identity; when empty a fresh identity is
	// generated at startup.
	Secure    bool
	SeedHex   string
	SecretHex string

	SessionTTL     time.Duration
	MetaSessionTTL time.Duration
	PurgeInterval  time.Duration

	ReceiptPollInterval time.Duration
	ReceiptCapacity     int

	ReportInterval time.Duration

	// Service region bounds advertised in service responses, in decimal
	// degrees: north-west corner then south-east corner.
	NWLatitude  float64
	NWLongitude float64
	SELatitude  float64
	SELongitude float64
}

// DefaultConfig returns the settings used when no config file or flag says
// otherwise.
func DefaultConfig() Config {
	return Config{
		ListenAddr:          ":46751",
		AdminAddr:           ":8080",
		DataDir:             "./data",
		SessionTTL:          session.DefaultTTL,
		MetaSessionTTL:      session.DefaultMetaTTL,
		PurgeInterval:       session.DefaultPurgeInterval,
		ReceiptPollInterval: gateway.DefaultPollInterval,
		ReceiptCapacity:     gateway.DefaultPendingCapacity,
		ReportInterval:      5 * time.Minute,
		NWLatitude:          43.0,
		NWLongitude:         -85.0,
		SELatitude:          41.0,
		SELongitude:         -82.0,
	}
}

// config.toml key mapping to runtime settings. Durations are Go duration
// strings ("20s", "5m").
type fileConfig struct {
	ListenAddr          string  `toml:"listen_addr"`
	AdminAddr           string  `toml:"admin_addr"`
	DataDir             string  `toml:"data_dir"`
	Forwarder           string  `toml:"forwarder"`
	Secure              bool    `toml:"secure"`
	SeedHex             string  `toml:"seed_hex"`
	SecretHex           string  `toml:"secret_hex"`
	SessionTTL          string  `toml:"session_ttl"`
	MetaSessionTTL      string  `toml:"meta_session_ttl"`
	PurgeInterval       string  `toml:"purge_interval"`
	ReceiptPollInterval string  `toml:"receipt_poll_interval"`
	ReceiptCapacity     int     `toml:"receipt_capacity"`
	ReportInterval      string  `toml:"report_interval"`
	NWLatitude          float64 `toml:"nw_latitude"`
	NWLongitude         float64 `toml:"nw_longitude"`
	SELatitude          float64 `toml:"se_latitude"`
	SELongitude         float64 `toml:"se_longitude"`
}

// loadConfig overlays a TOML file onto the defaults. Only keys present in
// the file override.
func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load gateway config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("data_dir") {
		cfg.DataDir = strings.TrimSpace(raw.DataDir)
	}
	if meta.IsDefined("forwarder") {
		cfg.Forwarder = strings.TrimSpace(raw.Forwarder)
	}
	if meta.IsDefined("secure") {
		cfg.Secure = raw.Secure
	}
	if meta.IsDefined("seed_hex") {
		cfg.SeedHex = strings.TrimSpace(raw.SeedHex)
	}
	if meta.IsDefined("secret_hex") {
		cfg.SecretHex = strings.TrimSpace(raw.SecretHex)
	}
	if meta.IsDefined("session_ttl") {
		if cfg.SessionTTL, err = parseInterval("session_ttl", raw.SessionTTL); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("meta_session_ttl") {
		if cfg.MetaSessionTTL, err = parseInterval("meta_session_ttl", raw.MetaSessionTTL); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("purge_interval") {
		if cfg.PurgeInterval, err = parseInterval("purge_interval", raw.PurgeInterval); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("receipt_poll_interval") {
		if cfg.ReceiptPollInterval, err = parseInterval("receipt_poll_interval", raw.ReceiptPollInterval); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("receipt_capacity") {
		if raw.ReceiptCapacity <= 0 {
			return Config{}, fmt.Errorf("load gateway config: receipt_capacity must be positive, got %d", raw.ReceiptCapacity)
		}
		cfg.ReceiptCapacity = raw.ReceiptCapacity
	}
	if meta.IsDefined("report_interval") {
		if cfg.ReportInterval, err = parseInterval("report_interval", raw.ReportInterval); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("nw_latitude") {
		cfg.NWLatitude = raw.NWLatitude
	}
	if meta.IsDefined("nw_longitude") {
		cfg.NWLongitude = raw.NWLongitude
	}
	if meta.IsDefined("se_latitude") {
		cfg.SELatitude = raw.SELatitude
	}
	if meta.IsDefined("se_longitude") {
		cfg.SELongitude = raw.SELongitude
	}

	return cfg, nil
}

func parseInterval(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("load gateway config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("load gateway config: %s must be positive, got %s", key, d)
	}
	return d, nil
}
