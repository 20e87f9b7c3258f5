// Package config loads and validates the server configuration document.
//
// Configuration comes from a single YAML file given by the --config flag or
// the AIP_CONFIG_PATH environment variable. Unknown keys are errors: a typo
// in a backend name or a misplaced block fails startup instead of silently
// running with defaults. The bidder roster lives in a second document (see
// package registry) whose path resolves the same way via AIP_BIDDERS_PATH.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GouniManikumar12/aip-server/fanout"
	"github.com/GouniManikumar12/aip-server/storage"
	"github.com/GouniManikumar12/aip-server/weave"
)

// Environment variables recognized at startup.
const (
	EnvConfigPath  = "AIP_CONFIG_PATH"
	EnvBiddersPath = "AIP_BIDDERS_PATH"
)

// Auction window bounds in milliseconds. Values outside the permitted range
// are clamped, not rejected; the weave window is exempt.
const (
	DefaultWindowMillis = 50
	MinWindowMillis     = 30
	MaxWindowMillis     = 70
)

// Config is the full server configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Log        LogConfig        `yaml:"log"`
	Transport  TransportConfig  `yaml:"transport"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Auction    AuctionConfig    `yaml:"auction"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Weave      WeaveConfig      `yaml:"weave"`
	Operator   OperatorConfig   `yaml:"operator"`
}

// ListenConfig sets the HTTP listen addresses.
type ListenConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// LogConfig selects the log output format and level.
type LogConfig struct {
	JSON  bool `yaml:"json"`
	Debug bool `yaml:"debug"`
}

// TransportConfig sets the anti-replay knobs applied to every signed
// payload.
type TransportConfig struct {
	NonceTTLSeconds    int64 `yaml:"nonce_ttl_seconds"`
	MaxClockSkewMillis int64 `yaml:"max_clock_skew_ms"`
}

// NonceTTL returns the nonce retention window.
func (c TransportConfig) NonceTTL() time.Duration {
	return time.Duration(c.NonceTTLSeconds) * time.Second
}

// MaxClockSkew returns the permitted timestamp skew.
func (c TransportConfig) MaxClockSkew() time.Duration {
	return time.Duration(c.MaxClockSkewMillis) * time.Millisecond
}

// LedgerConfig selects the storage backend and its options.
type LedgerConfig struct {
	Backend   string           `yaml:"backend"`
	Postgres  PostgresOptions  `yaml:"postgres"`
	Redis     RedisOptions     `yaml:"redis"`
	Firestore FirestoreOptions `yaml:"firestore"`
}

// PostgresOptions mirrors storage.PostgresConfig in YAML form.
type PostgresOptions struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// RedisOptions mirrors storage.RedisConfig in YAML form.
type RedisOptions struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// FirestoreOptions mirrors storage.FirestoreConfig in YAML form.
type FirestoreOptions struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	Collection      string `yaml:"collection"`
}

// StorageConfig maps the ledger block onto the storage package's config.
func (c LedgerConfig) StorageConfig() storage.Config {
	return storage.Config{
		Backend: c.Backend,
		Postgres: storage.PostgresConfig{
			Host:     c.Postgres.Host,
			Port:     c.Postgres.Port,
			User:     c.Postgres.User,
			Password: c.Postgres.Password,
			Database: c.Postgres.Database,
			SSLMode:  c.Postgres.SSLMode,
		},
		Redis: storage.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		},
		Firestore: storage.FirestoreConfig{
			ProjectID:       c.Firestore.ProjectID,
			CredentialsFile: c.Firestore.CredentialsFile,
			Collection:      c.Firestore.Collection,
		},
	}
}

// AuctionConfig sets the auction window and the fanout transport.
type AuctionConfig struct {
	WindowMillis int64              `yaml:"window_ms"`
	Distribution DistributionConfig `yaml:"distribution"`
}

// Window returns the auction window clamped to the permitted range. The
// clamp keeps a fat-fingered config from either starving bidders or holding
// platform requests open.
func (c AuctionConfig) Window() time.Duration {
	ms := c.WindowMillis
	switch {
	case ms <= 0:
		ms = DefaultWindowMillis
	case ms < MinWindowMillis:
		ms = MinWindowMillis
	case ms > MaxWindowMillis:
		ms = MaxWindowMillis
	}
	return time.Duration(ms) * time.Millisecond
}

// DistributionConfig selects the fanout backend.
type DistributionConfig struct {
	Backend         string `yaml:"backend"`
	TopicPrefix     string `yaml:"topic_prefix"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// FanoutConfig maps the distribution block onto the fanout package's config.
func (c DistributionConfig) FanoutConfig() fanout.Config {
	return fanout.Config{
		Backend: c.Backend,
		PubSub: fanout.PubSubConfig{
			ProjectID:       c.ProjectID,
			TopicPrefix:     c.TopicPrefix,
			CredentialsFile: c.CredentialsFile,
		},
	}
}

// ClassifierConfig defines the keyword-to-pool mapping. Rules apply in
// order; a request matching no rule lands in the default pools.
type ClassifierConfig struct {
	DefaultPools []string     `yaml:"default_pools"`
	Rules        []RuleConfig `yaml:"rules"`
}

// RuleConfig is one keyword-to-pool rule.
type RuleConfig struct {
	Pool     string   `yaml:"pool"`
	Keywords []string `yaml:"keywords"`
}

// WeaveConfig tunes the recommendation coordinator.
type WeaveConfig struct {
	WindowMillis int64 `yaml:"window_ms"`
	Workers      int   `yaml:"workers"`
}

// CoordinatorConfig maps the weave block onto the weave package's config.
func (c WeaveConfig) CoordinatorConfig() weave.Config {
	return weave.Config{
		Window:  time.Duration(c.WindowMillis) * time.Millisecond,
		Workers: c.Workers,
	}
}

// OperatorConfig identifies the server operator on meta endpoints.
type OperatorConfig struct {
	ID             string   `yaml:"id"`
	AllowedFormats []string `yaml:"allowed_formats"`
}

// Default returns the configuration used when no file is given. Every field
// carries a workable development value; production deployments load a file.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Addr:        ":8080",
			MetricsAddr: ":8090",
		},
		Transport: TransportConfig{
			NonceTTLSeconds:    60,
			MaxClockSkewMillis: 500,
		},
		Ledger: LedgerConfig{
			Backend: storage.BackendInMemory,
		},
		Auction: AuctionConfig{
			WindowMillis: DefaultWindowMillis,
			Distribution: DistributionConfig{
				Backend: fanout.BackendLocal,
			},
		},
		Classifier: ClassifierConfig{
			DefaultPools: []string{"default"},
		},
		Weave: WeaveConfig{
			WindowMillis: weave.DefaultWindow.Milliseconds(),
			Workers:      weave.DefaultWorkers,
		},
		Operator: OperatorConfig{
			ID:             "operator",
			AllowedFormats: []string{"weave"},
		},
	}
}

// Load reads the configuration from AIP_CONFIG_PATH, falling back to the
// defaults when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads one configuration file over the defaults and validates the
// result.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// BiddersPath resolves the bidder document path: the flag value wins, then
// AIP_BIDDERS_PATH. Empty means no bidders are registered.
func BiddersPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvBiddersPath)
}

// Validate checks the configuration for errors. All problems are reported
// at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Ledger.Backend {
	case storage.BackendInMemory, storage.BackendRedis, storage.BackendPostgres, storage.BackendFirestore:
	default:
		errs = append(errs, fmt.Errorf("ledger.backend must be one of in_memory, redis, postgres, firestore; got %q", c.Ledger.Backend))
	}
	if c.Ledger.Backend == storage.BackendRedis && c.Ledger.Redis.Addr == "" {
		errs = append(errs, errors.New("ledger.redis.addr is required for the redis backend"))
	}
	if c.Ledger.Backend == storage.BackendFirestore && c.Ledger.Firestore.ProjectID == "" {
		errs = append(errs, errors.New("ledger.firestore.project_id is required for the firestore backend"))
	}

	switch c.Auction.Distribution.Backend {
	case fanout.BackendLocal, fanout.BackendPubSub:
	default:
		errs = append(errs, fmt.Errorf("auction.distribution.backend must be local or pubsub; got %q", c.Auction.Distribution.Backend))
	}
	if c.Auction.Distribution.Backend == fanout.BackendPubSub && c.Auction.Distribution.ProjectID == "" {
		errs = append(errs, errors.New("auction.distribution.project_id is required for the pubsub backend"))
	}

	if c.Transport.NonceTTLSeconds <= 0 {
		errs = append(errs, errors.New("transport.nonce_ttl_seconds must be positive"))
	}
	if c.Transport.MaxClockSkewMillis <= 0 {
		errs = append(errs, errors.New("transport.max_clock_skew_ms must be positive"))
	}

	if len(c.Classifier.DefaultPools) == 0 {
		errs = append(errs, errors.New("classifier.default_pools must name at least one pool"))
	}
	for i, rule := range c.Classifier.Rules {
		if rule.Pool == "" {
			errs = append(errs, fmt.Errorf("classifier.rules[%d]: missing pool", i))
		}
		if len(rule.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("classifier.rules[%d]: missing keywords", i))
		}
	}

	if c.Weave.Workers < 0 {
		errs = append(errs, errors.New("weave.workers must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
