// Package config loads petmem settings from defaults, an optional YAML
// file, a .env file and PETMEM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PETMEM_GATEWAY_URL.
const EnvPrefix = "PETMEM"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the client core settings.
type Config struct {
	// GatewayURL is the primary backend gateway.
	GatewayURL string `mapstructure:"gateway_url"`
	// AlternateURL is the optional second gateway tried on sign-up.
	AlternateURL string `mapstructure:"alternate_url"`
	// BackendURL is the identity provider / data API used directly.
	BackendURL string `mapstructure:"backend_url"`
	APIKey     string `mapstructure:"api_key"`

	DataDir     string `mapstructure:"data_dir"`
	StoreDriver string `mapstructure:"store_driver"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	// CredPassphrase encrypts the credential keyring; empty uses a device secret.
	CredPassphrase string `mapstructure:"cred_passphrase"`
	// PolicyFile is a YAML policy path or the name "strict".
	PolicyFile string `mapstructure:"policy_file"`

	TierTimeouts      []time.Duration `mapstructure:"tier_timeouts"`
	DetectTunnel      bool            `mapstructure:"detect_tunnel"`
	AutoLoginInterval time.Duration   `mapstructure:"auto_login_interval"`
	CartRecheckDelay  time.Duration   `mapstructure:"cart_recheck_delay"`
	OrderStepDelay    time.Duration   `mapstructure:"order_step_delay"`
	TrackingNode      int64           `mapstructure:"tracking_node"`
	MirrorOrders      bool            `mapstructure:"mirror_orders"`

	SyncInterval time.Duration `mapstructure:"sync_interval"`
	GRPCAddr     string        `mapstructure:"grpc_addr"`
	MetricsAddr  string        `mapstructure:"metrics_addr"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

func defaultDataDir() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, "petmem")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "petmem")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("store_driver", DriverSQLite)
	v.SetDefault("tier_timeouts", []string{"30s", "15s", "60s"})
	v.SetDefault("detect_tunnel", true)
	v.SetDefault("auto_login_interval", "2s")
	v.SetDefault("cart_recheck_delay", "500ms")
	v.SetDefault("order_step_delay", "3s")
	v.SetDefault("tracking_node", 1)
	v.SetDefault("mirror_orders", true)
	v.SetDefault("sync_interval", "5m")
	v.SetDefault("grpc_addr", "127.0.0.1:7070")
	v.SetDefault("metrics_addr", "127.0.0.1:9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// keys lists every setting so AutomaticEnv picks up env-only values on Unmarshal.
var keys = []string{
	"gateway_url", "alternate_url", "backend_url", "api_key",
	"data_dir", "store_driver", "postgres_dsn", "cred_passphrase", "policy_file",
	"tier_timeouts", "detect_tunnel", "auto_login_interval", "cart_recheck_delay",
	"order_step_delay", "tracking_node", "mirror_orders",
	"sync_interval", "grpc_addr", "metrics_addr", "log_level", "log_format",
}

// Load reads .env from the working directory when present, then path (YAML,
// optional) and PETMEM_* variables over the defaults.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return Config{}, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	return cfg, nil
}

// Validate reports settings the client cannot start without.
func (c Config) Validate() error {
	var problems []error
	if c.GatewayURL == "" {
		problems = append(problems, errors.New("gateway_url is required"))
	}
	if c.BackendURL == "" {
		problems = append(problems, errors.New("backend_url is required"))
	}
	switch c.StoreDriver {
	case DriverSQLite:
		if c.DataDir == "" {
			problems = append(problems, errors.New("data_dir is required"))
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			problems = append(problems, errors.New("postgres_dsn is required for the postgres store"))
		}
	default:
		problems = append(problems, fmt.Errorf("unknown store_driver %q", c.StoreDriver))
	}
	if c.TrackingNode < 0 || c.TrackingNode > 1023 {
		problems = append(problems, fmt.Errorf("tracking_node %d out of range 0..1023", c.TrackingNode))
	}
	return errors.Join(problems...)
}

// SQLitePath is the local database file under DataDir.
func (c Config) SQLitePath() string { return filepath.Join(c.DataDir, "petmem.db") }

// CredDir is the credential keyring directory under DataDir.
func (c Config) CredDir() string { return filepath.Join(c.DataDir, "credentials") }
