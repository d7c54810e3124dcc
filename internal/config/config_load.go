package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Rocket: RocketConfig{
			AccountConfig: AccountConfig{
				DMPolicy:    "pairing",
				GroupPolicy: "open",
				MediaMaxMB:  50,
			},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18920,
		},
		Pairing: PairingConfig{
			Storage: "~/.rockgate/pairing.db",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "rockgate",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("ROCKGATE_SERVER_URL", &c.Rocket.ServerURL)
	envStr("ROCKGATE_WS_URL", &c.Rocket.WSURL)
	envStr("ROCKGATE_API_KEY", &c.Rocket.APIKey)
	envStr("ROCKGATE_USERNAME", &c.Rocket.Username)
	envStr("ROCKGATE_PASSWORD", &c.Rocket.Password)
	envStr("ROCKGATE_BOT_USER_ID", &c.Rocket.BotUserID)

	envStr("ROCKGATE_HOST", &c.Gateway.Host)
	if v := os.Getenv("ROCKGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	envStr("ROCKGATE_METRICS_ADDR", &c.Gateway.MetricsAddr)
	envStr("ROCKGATE_PAIRING_STORAGE", &c.Pairing.Storage)

	envStr("ROCKGATE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("ROCKGATE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("ROCKGATE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("ROCKGATE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ROCKGATE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

const secretMask = "***"

// MaskedCopy returns a deep copy with credential fields masked, for display.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Rocket.APIKey)
	maskNonEmpty(&cp.Rocket.Password)
	for id, acct := range cp.Rocket.Accounts {
		maskNonEmpty(&acct.APIKey)
		maskNonEmpty(&acct.Password)
		cp.Rocket.Accounts[id] = acct
	}
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
