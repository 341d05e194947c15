package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models supplyrouter.yml. The engine treats it as read-only.
type Config struct {
	Admins   []int64  `yaml:"admins" json:"admins"`
	Features Features `yaml:"features" json:"features"`
	Database struct {
		Driver    string `yaml:"driver" json:"driver"`
		DSN       string `yaml:"dsn" json:"-"`
		Workspace string `yaml:"workspace" json:"workspace"`
	} `yaml:"database" json:"database"`
	Redis struct {
		Enabled            bool   `yaml:"enabled" json:"enabled"`
		Address            string `yaml:"address" json:"address"`
		Password           string `yaml:"password" json:"-"`
		DB                 int    `yaml:"db" json:"db"`
		SupplierTTLSeconds int    `yaml:"supplier_ttl_seconds" json:"supplier_ttl_seconds"`
		OrderTTLSeconds    int    `yaml:"order_ttl_seconds" json:"order_ttl_seconds"`
	} `yaml:"redis" json:"redis"`
	Notify struct {
		WebhookURL     string  `yaml:"webhook_url" json:"webhook_url"`
		Secret         string  `yaml:"secret" json:"-"`
		TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeout_seconds"`
		RatePerSecond  float64 `yaml:"rate_per_second" json:"rate_per_second"`
		Burst          int     `yaml:"burst" json:"burst"`
	} `yaml:"notify" json:"notify"`
	Pending struct {
		TTLSeconds int `yaml:"ttl_seconds" json:"ttl_seconds"`
	} `yaml:"pending" json:"pending"`
	Server struct {
		Addr                   string `yaml:"addr" json:"addr"`
		BasePath               string `yaml:"base_path" json:"base_path"`
		JWTSecret              string `yaml:"jwt_secret" json:"-"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header" json:"allow_legacy_actor_header"`
	} `yaml:"server" json:"server"`
	Log struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
}

// Features are switches read by the engine at call time.
type Features struct {
	// FallbackAssign routes unmatched orders to the earliest registered active supplier.
	FallbackAssign bool `yaml:"fallback_assign" json:"fallback_assign"`
	// ReassignOnDecline runs the matcher again after a supplier declines.
	ReassignOnDecline bool `yaml:"reassign_on_decline" json:"reassign_on_decline"`
	// GuardedTransitions rejects transitions from unexpected statuses.
	GuardedTransitions bool `yaml:"guarded_transitions" json:"guarded_transitions"`
	// NotifyOnCreate pushes newly assigned orders to the supplier.
	NotifyOnCreate bool `yaml:"notify_on_create" json:"notify_on_create"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sr config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config.database.dsn is required for postgres")
	}
	seen := map[int64]bool{}
	for _, id := range c.Admins {
		if id <= 0 {
			return fmt.Errorf("config.admins contains invalid id %d", id)
		}
		if seen[id] {
			return fmt.Errorf("config.admins lists %d twice", id)
		}
		seen[id] = true
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Address) == "" {
		return fmt.Errorf("config.redis.address is required when redis is enabled")
	}
	if c.Redis.SupplierTTLSeconds < 0 || c.Redis.OrderTTLSeconds < 0 || c.Pending.TTLSeconds < 0 {
		return fmt.Errorf("ttl values must not be negative")
	}
	if c.Notify.RatePerSecond < 0 || c.Notify.Burst < 0 {
		return fmt.Errorf("config.notify rate and burst must not be negative")
	}
	if c.Notify.WebhookURL != "" && !strings.HasPrefix(c.Notify.WebhookURL, "http://") && !strings.HasPrefix(c.Notify.WebhookURL, "https://") {
		return fmt.Errorf("config.notify.webhook_url must be an http(s) url")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// IsAdmin reports whether id is listed in config.admins.
func (c *Config) IsAdmin(id int64) bool {
	if c == nil {
		return false
	}
	for _, a := range c.Admins {
		if a == id {
			return true
		}
	}
	return false
}

func (c *Config) SupplierTTL() time.Duration {
	return seconds(c.Redis.SupplierTTLSeconds, 1800)
}

func (c *Config) OrderTTL() time.Duration {
	return seconds(c.Redis.OrderTTLSeconds, 300)
}

func (c *Config) PendingTTL() time.Duration {
	return seconds(c.Pending.TTLSeconds, 600)
}

func (c *Config) NotifyTimeout() time.Duration {
	return seconds(c.Notify.TimeoutSeconds, 5)
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "supplyrouter.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.Database.Workspace = workspace
			return cfg, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `admins: []

features:
  fallback_assign: true
  reassign_on_decline: true
  guarded_transitions: false
  notify_on_create: true

database:
  driver: sqlite
  dsn: ""
  workspace: "."

redis:
  enabled: false
  address: "localhost:6379"
  password: ""
  db: 0
  supplier_ttl_seconds: 1800
  order_ttl_seconds: 300

notify:
  webhook_url: ""
  secret: ""
  timeout_seconds: 5
  rate_per_second: 25
  burst: 5

pending:
  ttl_seconds: 600

server:
  addr: "127.0.0.1:8080"
  base_path: /v1
  jwt_secret: ""
  allow_legacy_actor_header: false

log:
  level: info
  format: console
`
