// Package nodeconfig loads the connector's configuration file and
// environment overrides into an explicit, fully enumerated Config. It
// carries no dynamic or reflective option bag: every recognized field
// is named here, matching the node-level options enumerated by the
// core's design notes.
package nodeconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"ilpconnector/pkg/utils"
)

// PeerRoute is one route to install for a peer at load time.
type PeerRoute struct {
	Prefix   string `mapstructure:"prefix"`
	Priority int32  `mapstructure:"priority"`
	Weight   uint32 `mapstructure:"weight"`
}

// Peer enumerates the fields recognized for one bilaterally configured
// peer entry in the config file.
type Peer struct {
	ID                  string      `mapstructure:"id"`
	URL                 string      `mapstructure:"url"`
	AuthToken           string      `mapstructure:"auth_token"`
	Routes              []PeerRoute `mapstructure:"routes"`
	CreditLimit         int64       `mapstructure:"credit_limit"`
	SettlementThreshold int64       `mapstructure:"settlement_threshold"`
}

// Config is the fully enumerated set of node options: node id, listen
// endpoint, outbound peer list (id/url/auth/routes), default credit
// limit, default settlement threshold, per-hop packet budget, max
// Prepare data size, and the permissionless-auth flag.
type Config struct {
	NodeID        string   `mapstructure:"node_id"`
	ListenAddr    string   `mapstructure:"listen_addr"`
	LocalAddress  string   `mapstructure:"local_address"`
	LocalPrefixes []string `mapstructure:"local_prefixes"`
	Peers         []Peer   `mapstructure:"peers"`

	DefaultCreditLimit         int64 `mapstructure:"default_credit_limit"`
	DefaultSettlementThreshold int64 `mapstructure:"default_settlement_threshold"`

	PerHopBudgetMillis      int64 `mapstructure:"per_hop_budget_ms"`
	MinOutboundWindowMillis int64 `mapstructure:"min_outbound_window_ms"`
	MaxPrepareDataLen       int   `mapstructure:"max_prepare_data_len"`

	Permissionless bool `mapstructure:"permissionless"`

	KeepaliveIntervalMillis int64 `mapstructure:"keepalive_interval_ms"`
	IdleTimeoutMillis       int64 `mapstructure:"idle_timeout_ms"`

	ReconnectBackoffBaseMillis int64 `mapstructure:"reconnect_backoff_base_ms"`
	ReconnectBackoffCapMillis  int64 `mapstructure:"reconnect_backoff_cap_ms"`

	ShutdownDeadlineMillis int64 `mapstructure:"shutdown_deadline_ms"`

	LogLevel string `mapstructure:"log_level"`

	// SnapshotPath, if set, enables the durable balance-snapshot
	// backend: the ledger is restored from this file on start and
	// flushed to it every SnapshotIntervalMillis thereafter.
	SnapshotPath           string `mapstructure:"snapshot_path"`
	SnapshotIntervalMillis int64  `mapstructure:"snapshot_interval_ms"`
}

// PerHopBudget returns the configured per-hop packet budget as a
// time.Duration.
func (c Config) PerHopBudget() time.Duration {
	return time.Duration(c.PerHopBudgetMillis) * time.Millisecond
}

// MinOutboundWindow returns the configured minimum outbound forwarding
// window as a time.Duration.
func (c Config) MinOutboundWindow() time.Duration {
	return time.Duration(c.MinOutboundWindowMillis) * time.Millisecond
}

// KeepaliveInterval returns the configured BTP keepalive interval.
func (c Config) KeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveIntervalMillis) * time.Millisecond
}

// IdleTimeout returns the configured BTP read-idle disconnect timeout.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMillis) * time.Millisecond
}

// ReconnectBackoffBase returns the configured reconnect backoff base.
func (c Config) ReconnectBackoffBase() time.Duration {
	return time.Duration(c.ReconnectBackoffBaseMillis) * time.Millisecond
}

// ReconnectBackoffCap returns the configured reconnect backoff cap.
func (c Config) ReconnectBackoffCap() time.Duration {
	return time.Duration(c.ReconnectBackoffCapMillis) * time.Millisecond
}

// ShutdownDeadline returns the configured graceful-shutdown deadline.
func (c Config) ShutdownDeadline() time.Duration {
	return time.Duration(c.ShutdownDeadlineMillis) * time.Millisecond
}

// SnapshotInterval returns the configured balance-snapshot flush
// interval.
func (c Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalMillis) * time.Millisecond
}

func defaults() Config {
	return Config{
		ListenAddr:                 "127.0.0.1:7768",
		PerHopBudgetMillis:         2000,
		MinOutboundWindowMillis:    500,
		MaxPrepareDataLen:          32768,
		KeepaliveIntervalMillis:    30000,
		IdleTimeoutMillis:          90000,
		ReconnectBackoffBaseMillis: 200,
		ReconnectBackoffCapMillis:  30000,
		ShutdownDeadlineMillis:     5000,
		LogLevel:                  "info",
		SnapshotIntervalMillis:     30000,
	}
}

// Load reads configuration from path (if non-empty), then from any
// ILPCONNECTOR_-prefixed environment variables, layering over built-in
// defaults. Environment variables use underscores in place of dots,
// e.g. ILPCONNECTOR_LISTEN_ADDR.
func Load(path string) (Config, error) {
	v := viper.New()
	d := defaults()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ILPCONNECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, d)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, utils.Wrap(err, "nodeconfig: reading config file")
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return Config{}, utils.Wrap(err, "nodeconfig: decoding config")
	}
	// default_credit_limit and default_settlement_threshold have no
	// registered viper default, so AutomaticEnv never binds them; apply
	// the env override explicitly, same as node_id.
	cfg.NodeID = utils.EnvOrDefault("ILPCONNECTOR_NODE_ID", cfg.NodeID)
	cfg.DefaultCreditLimit = int64(utils.EnvOrDefaultInt("ILPCONNECTOR_DEFAULT_CREDIT_LIMIT", int(cfg.DefaultCreditLimit)))
	cfg.DefaultSettlementThreshold = int64(utils.EnvOrDefaultInt("ILPCONNECTOR_DEFAULT_SETTLEMENT_THRESHOLD", int(cfg.DefaultSettlementThreshold)))

	if cfg.NodeID == "" {
		return Config{}, fmt.Errorf("nodeconfig: node_id is required")
	}
	return cfg, nil
}

// LoadFromEnv loads configuration the way Load does, except that when
// path is empty it falls back to the ILPCONNECTOR_CONFIG environment
// variable for the config file location.
func LoadFromEnv(path string) (Config, error) {
	return Load(utils.EnvOrDefault("ILPCONNECTOR_CONFIG", path))
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("per_hop_budget_ms", d.PerHopBudgetMillis)
	v.SetDefault("min_outbound_window_ms", d.MinOutboundWindowMillis)
	v.SetDefault("max_prepare_data_len", d.MaxPrepareDataLen)
	v.SetDefault("keepalive_interval_ms", d.KeepaliveIntervalMillis)
	v.SetDefault("idle_timeout_ms", d.IdleTimeoutMillis)
	v.SetDefault("reconnect_backoff_base_ms", d.ReconnectBackoffBaseMillis)
	v.SetDefault("reconnect_backoff_cap_ms", d.ReconnectBackoffCapMillis)
	v.SetDefault("shutdown_deadline_ms", d.ShutdownDeadlineMillis)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("snapshot_interval_ms", d.SnapshotIntervalMillis)
}
