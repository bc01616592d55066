package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all orchestrator settings. Values come from the environment
// with sane defaults; an optional YAML file overrides the environment.
type Config struct {
	// HTTP API
	ListenAddr string `yaml:"listen_addr"`

	// JWT client auth
	JWTSecret        string `yaml:"jwt_secret"`
	JWTExpireMinutes int    `yaml:"jwt_expire_minutes"`

	// Upstream LLM gateway
	ZenmuxAPIKey  string `yaml:"zenmux_api_key"`
	ZenmuxBaseURL string `yaml:"zenmux_base_url"`

	// Sandbox containers
	Image            string  `yaml:"image"`
	PortRangeStart   int     `yaml:"port_range_start"`
	PortRangeEnd     int     `yaml:"port_range_end"`
	DataDir          string  `yaml:"data_dir"`
	ContainerMemory  string  `yaml:"container_memory"`
	ContainerCPUs    float64 `yaml:"container_cpus"`
	NodeMaxOldSpace  int     `yaml:"node_max_old_space"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	HostModulesPath  string  `yaml:"host_modules_path"`
	TemplateDir      string  `yaml:"template_dir"`
	GatewayPublicHost string `yaml:"gateway_public_host"`

	// Catalog store
	StorePath string `yaml:"store_path"`

	// APNs push notifications
	APNsKeyPath    string `yaml:"apns_key_path"`
	APNsKeyID      string `yaml:"apns_key_id"`
	APNsTeamID     string `yaml:"apns_team_id"`
	APNsBundleID   string `yaml:"apns_bundle_id"`
	APNsUseSandbox bool   `yaml:"apns_use_sandbox"`

	// External API keys passed into workspaces
	TavilyAPIKey string `yaml:"tavily_api_key"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		ListenAddr:        ":8000",
		JWTSecret:         "change-me-to-a-strong-random-secret",
		JWTExpireMinutes:  1440,
		ZenmuxBaseURL:     "https://zenmux.ai/api/v1",
		Image:             "clawbowl-openclaw:latest",
		PortRangeStart:    19001,
		PortRangeEnd:      19999,
		DataDir:           "/var/lib/clawbowl",
		ContainerMemory:   "1536m",
		ContainerCPUs:     0.5,
		NodeMaxOldSpace:   1024,
		IdleTimeout:       30 * time.Minute,
		HostModulesPath:   "/usr/lib/node_modules/openclaw",
		TemplateDir:       "/var/lib/clawbowl/templates",
		GatewayPublicHost: "api.prometheusclothing.net",
		StorePath:         "/var/lib/clawbowl/clawbowl.db",
		APNsBundleID:      "com.gangliu.ClawBowl",
		APNsUseSandbox:    true,
		LogLevel:          "info",
		LogJSON:           true,
	}
}

// Load builds the configuration from defaults, then environment variables,
// then an optional YAML file (highest precedence). path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.applyEnv()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "CLAWBOWL_LISTEN_ADDR")
	setString(&c.JWTSecret, "CLAWBOWL_JWT_SECRET")
	setInt(&c.JWTExpireMinutes, "CLAWBOWL_JWT_EXPIRE_MINUTES")
	setString(&c.ZenmuxAPIKey, "ZENMUX_API_KEY")
	setString(&c.ZenmuxBaseURL, "ZENMUX_BASE_URL")
	setString(&c.Image, "CLAWBOWL_IMAGE")
	setInt(&c.PortRangeStart, "CLAWBOWL_PORT_RANGE_START")
	setInt(&c.PortRangeEnd, "CLAWBOWL_PORT_RANGE_END")
	setString(&c.DataDir, "CLAWBOWL_DATA_DIR")
	setString(&c.ContainerMemory, "CLAWBOWL_CONTAINER_MEMORY")
	setFloat(&c.ContainerCPUs, "CLAWBOWL_CONTAINER_CPUS")
	setInt(&c.NodeMaxOldSpace, "CLAWBOWL_NODE_MAX_OLD_SPACE")
	setDuration(&c.IdleTimeout, "CLAWBOWL_IDLE_TIMEOUT")
	setString(&c.HostModulesPath, "CLAWBOWL_HOST_MODULES")
	setString(&c.TemplateDir, "CLAWBOWL_TEMPLATE_DIR")
	setString(&c.GatewayPublicHost, "CLAWBOWL_GATEWAY_PUBLIC_HOST")
	setString(&c.StorePath, "CLAWBOWL_STORE_PATH")
	setString(&c.APNsKeyPath, "APNS_KEY_PATH")
	setString(&c.APNsKeyID, "APNS_KEY_ID")
	setString(&c.APNsTeamID, "APNS_TEAM_ID")
	setString(&c.APNsBundleID, "APNS_BUNDLE_ID")
	setBool(&c.APNsUseSandbox, "APNS_USE_SANDBOX")
	setString(&c.TavilyAPIKey, "TAVILY_API_KEY")
	setString(&c.LogLevel, "CLAWBOWL_LOG_LEVEL")
	setBool(&c.LogJSON, "CLAWBOWL_LOG_JSON")
}

// Validate checks settings that would otherwise fail at an awkward moment
// deep inside a sandbox start.
func (c *Config) Validate() error {
	if c.PortRangeStart <= 0 || c.PortRangeEnd <= 0 {
		return fmt.Errorf("port range must be positive, got [%d, %d]", c.PortRangeStart, c.PortRangeEnd)
	}
	if c.PortRangeStart > c.PortRangeEnd {
		return fmt.Errorf("port range start %d exceeds end %d", c.PortRangeStart, c.PortRangeEnd)
	}
	if c.Image == "" {
		return fmt.Errorf("image must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %s", c.IdleTimeout)
	}
	if _, err := c.MemoryBytes(); err != nil {
		return err
	}
	return nil
}

// MemoryBytes parses the container memory limit ("1536m", "2g") into bytes.
func (c *Config) MemoryBytes() (int64, error) {
	return ParseMemory(c.ContainerMemory)
}

// ParseMemory converts a memory limit string ("1536m", "2g") into bytes.
func ParseMemory(limit string) (int64, error) {
	s := limit
	if s == "" {
		return 0, fmt.Errorf("container memory must not be empty")
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse container memory %q: %w", limit, err)
	}
	return n * mult, nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
