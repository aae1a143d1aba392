package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the root application configuration, loaded default -> file(s)
// -> environment -> CLI, mirroring the priority order and nested-struct-
// per-concern layout the rest of this codebase's config always used.
type Config struct {
	Environment string              `toml:"environment"`
	Server      ServerConfig        `toml:"server"`
	Storage     StorageConfig       `toml:"storage"`
	Logging     LoggingConfig       `toml:"logging"`
	Session     SessionConfig       `toml:"session"`
	Proxy       ProxyConfig         `toml:"proxy"`
	RateLimiter RateLimiterConfig   `toml:"rate_limiter"`
	Segmentation SegmentationConfig `toml:"segmentation"`
	Validator   ValidatorConfig     `toml:"validator"`
	Migrator    MigratorConfig      `toml:"migrator"`
	Checkpoint  CheckpointConfig    `toml:"checkpoint"`
	Production  ProductionConfig    `toml:"production"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type StorageConfig struct {
	Badger      BadgerConfig `toml:"badger"`
	StagingDir  string       `toml:"staging_dir"` // dir holding staging_<jobId> stores
}

type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Output     []string `toml:"output"`
	TimeFormat string   `toml:"time_format"`
}

// SessionConfig configures C1 Upstream Session.
type SessionConfig struct {
	BaseURL        string        `toml:"base_url"`
	UserAgent      string        `toml:"user_agent"`
	AcceptLanguage string        `toml:"accept_language"`
	TTL            time.Duration `toml:"ttl"`
}

// ProxyConfig configures C2 Proxy Gateway. Exactly one provider block
// should have Enabled=true at a time; VPN-mode, ProxyScrape, Oxylabs are
// evaluated in that priority order (spec.md §4.2).
type ProxyConfig struct {
	VPN         VPNConfig         `toml:"vpn"`
	ProxyScrape ProxyScrapeConfig `toml:"proxyscrape"`
	Oxylabs     OxylabsConfig     `toml:"oxylabs"`
}

type VPNConfig struct {
	Enabled bool `toml:"enabled"`
}

type ProxyScrapeConfig struct {
	Enabled           bool     `toml:"enabled"`
	Username          string   `toml:"username"`
	Password          string   `toml:"password"`
	Host              string   `toml:"host"`
	Ports             []int    `toml:"ports"`
	Country           string   `toml:"country"`
	CountryInUsername bool     `toml:"country_in_username"`
}

// OxylabsProxyType enumerates Oxylabs's pool types.
type OxylabsProxyType string

const (
	OxylabsResidential OxylabsProxyType = "residential"
	OxylabsISP         OxylabsProxyType = "isp"
	OxylabsDatacenter  OxylabsProxyType = "datacenter"
)

// OxylabsSessionType enumerates Oxylabs's session stickiness modes.
// "sticky" is declared but not implemented — see spec.md §9 Open Questions.
type OxylabsSessionType string

const (
	OxylabsRotate OxylabsSessionType = "rotate"
	OxylabsSticky OxylabsSessionType = "sticky"
)

type OxylabsConfig struct {
	Enabled           bool                `toml:"enabled"`
	Username          string              `toml:"username"`
	Password          string              `toml:"password"`
	ProxyType         OxylabsProxyType    `toml:"proxy_type"`
	Country           string              `toml:"country"`
	SessionType       OxylabsSessionType  `toml:"session_type"`
	Port              int                 `toml:"port"`
	Ports             []int               `toml:"ports"`
	CountryInUsername bool                `toml:"country_in_username"`
}

// StageLimiterConfig configures one stage's Adaptive Rate Limiter.
type StageLimiterConfig struct {
	Concurrent        int           `toml:"concurrent"`
	Delay             time.Duration `toml:"delay"`
	MaxRetries        int           `toml:"max_retries"`
	BackoffMultiplier float64       `toml:"backoff_multiplier"`
	MaxDelay          time.Duration `toml:"max_delay"`
	NightMode         *NightModeConfig `toml:"night_mode"`
}

type NightModeConfig struct {
	StartHour  int           `toml:"start_hour"`
	EndHour    int           `toml:"end_hour"`
	Concurrent int           `toml:"concurrent"`
	Delay      time.Duration `toml:"delay"`
}

type RateLimiterConfig struct {
	Stage1 StageLimiterConfig `toml:"stage1"`
	Stage2 StageLimiterConfig `toml:"stage2"`
	Stage3 StageLimiterConfig `toml:"stage3"`
}

type SegmentationConfig struct {
	BatchSize      int `toml:"batch_size"`
	ChunkConcurrency int `toml:"chunk_concurrency"`
	MaxPages       int `toml:"max_pages"`
	MaxEmptyPages  int `toml:"max_empty_pages"`
}

type ValidatorConfig struct {
	MinYear int `toml:"min_year"`
}

type MigratorConfig struct {
	LogPath string `toml:"log_path"`
}

// ProductionConfig configures the HTTP client the Migrator uses to reach
// the external production warehouse (spec.md §1's "minimal interface used
// by the migrator").
type ProductionConfig struct {
	BaseURL string        `toml:"base_url"`
	Timeout time.Duration `toml:"timeout"`
}

type CheckpointConfig struct {
	EveryNCompanies     int           `toml:"every_n_companies"`
	StaleSweepInterval  string        `toml:"stale_sweep_interval"` // cron expression
	StaleThresholdMins  int           `toml:"stale_threshold_minutes"`
}

// NewDefaultConfig returns the engine's defaults, matching the stage
// defaults spec.md §4.3 specifies.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server:      ServerConfig{Port: 8090, Host: "localhost"},
		Storage: StorageConfig{
			Badger:     BadgerConfig{Path: "./data/registry"},
			StagingDir: "./staging",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		Session: SessionConfig{
			BaseURL:        "https://www.allabolag.se",
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			AcceptLanguage: "sv-SE,sv;q=0.9,en;q=0.8",
			TTL:            30 * time.Minute,
		},
		Proxy: ProxyConfig{
			VPN: VPNConfig{Enabled: false},
		},
		RateLimiter: RateLimiterConfig{
			Stage1: StageLimiterConfig{Concurrent: 5, Delay: 100 * time.Millisecond, MaxRetries: 3, BackoffMultiplier: 2, MaxDelay: 30 * time.Second},
			Stage2: StageLimiterConfig{Concurrent: 5, Delay: 100 * time.Millisecond, MaxRetries: 3, BackoffMultiplier: 2, MaxDelay: 30 * time.Second},
			Stage3: StageLimiterConfig{
				Concurrent: 10, Delay: 100 * time.Millisecond, MaxRetries: 3, BackoffMultiplier: 2, MaxDelay: 30 * time.Second,
				NightMode: &NightModeConfig{StartHour: 22, EndHour: 6, Concurrent: 20, Delay: 50 * time.Millisecond},
			},
		},
		Segmentation: SegmentationConfig{
			BatchSize:        20,
			ChunkConcurrency: 15,
			MaxPages:         3000,
			MaxEmptyPages:    3,
		},
		Validator: ValidatorConfig{MinYear: 2010},
		Migrator:  MigratorConfig{LogPath: "./data/migration.log"},
		Production: ProductionConfig{
			BaseURL: "http://localhost:9090",
			Timeout: 15 * time.Second,
		},
		Checkpoint: CheckpointConfig{
			EveryNCompanies:    10,
			StaleSweepInterval: "@every 5m",
			StaleThresholdMins: 15,
		},
	}
}

// LoadFromFiles loads configuration default -> file1 -> file2 -> ... -> env.
// Later files override earlier ones; environment variables override all
// files (spec.md §6's recognized OXYLABS_*/PROXYSCRAPE_*/VPN_ENABLED set).
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("VPN_ENABLED"); v != "" {
		c.Proxy.VPN.Enabled = strings.EqualFold(v, "true")
	}

	if v := os.Getenv("PROXYSCRAPE_ENABLED"); v != "" {
		c.Proxy.ProxyScrape.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PROXYSCRAPE_USERNAME"); v != "" {
		c.Proxy.ProxyScrape.Username = v
	}
	if v := os.Getenv("PROXYSCRAPE_PASSWORD"); v != "" {
		c.Proxy.ProxyScrape.Password = v
	}
	if v := os.Getenv("PROXYSCRAPE_COUNTRY"); v != "" {
		c.Proxy.ProxyScrape.Country = v
	}
	if v := os.Getenv("PROXYSCRAPE_COUNTRY_IN_USERNAME"); v != "" {
		c.Proxy.ProxyScrape.CountryInUsername = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PROXYSCRAPE_PORTS"); v != "" {
		c.Proxy.ProxyScrape.Ports = parseIntList(v)
	}

	if v := os.Getenv("OXYLABS_ENABLED"); v != "" {
		c.Proxy.Oxylabs.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("OXYLABS_USERNAME"); v != "" {
		c.Proxy.Oxylabs.Username = v
	}
	if v := os.Getenv("OXYLABS_PASSWORD"); v != "" {
		c.Proxy.Oxylabs.Password = v
	}
	if v := os.Getenv("OXYLABS_PROXY_TYPE"); v != "" {
		c.Proxy.Oxylabs.ProxyType = OxylabsProxyType(v)
	}
	if v := os.Getenv("OXYLABS_COUNTRY"); v != "" {
		c.Proxy.Oxylabs.Country = v
	}
	if v := os.Getenv("OXYLABS_SESSION_TYPE"); v != "" {
		c.Proxy.Oxylabs.SessionType = OxylabsSessionType(v)
	}
	if v := os.Getenv("OXYLABS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Proxy.Oxylabs.Port = p
		}
	}
	if v := os.Getenv("OXYLABS_PORTS"); v != "" {
		c.Proxy.Oxylabs.Ports = parseIntList(v)
	}
	if v := os.Getenv("OXYLABS_COUNTRY_IN_USERNAME"); v != "" {
		c.Proxy.Oxylabs.CountryInUsername = strings.EqualFold(v, "true")
	}
}

func parseIntList(v string) []int {
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
		}
	}
	return out
}
