// Package config holds the gateway configuration: the Rocket.Chat channel
// section with its default account and named sub-accounts, plus gateway,
// telemetry and storage settings.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultAccountID is the reserved id of the default-section account.
const DefaultAccountID = "default"

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the gateway.
type Config struct {
	Rocket    RocketConfig    `json:"rocket"`
	Gateway   GatewayConfig   `json:"gateway"`
	Pairing   PairingConfig   `json:"pairing,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// GroupRule configures per-group admission for group chats.
type GroupRule struct {
	Users          FlexibleStringSlice `json:"users,omitempty"`           // senders admitted in this group; "*" = anyone
	RequireMention *bool               `json:"require_mention,omitempty"` // default true when unset
}

// AccountConfig is the per-account field set. The channel-level RocketConfig
// embeds the same fields for the default account; named accounts override
// them selectively.
type AccountConfig struct {
	Enabled        *bool                `json:"enabled,omitempty"` // default true
	ServerURL      string               `json:"server_url,omitempty"`
	WSURL          string               `json:"ws_url,omitempty"`
	WebhookPath    string               `json:"webhook_path,omitempty"`
	APIKey         string               `json:"api_key,omitempty"`
	Username       string               `json:"username,omitempty"`
	Password       string               `json:"password,omitempty"`
	BotUserID      string               `json:"bot_user_id,omitempty"`
	DMPolicy       string               `json:"dm_policy,omitempty"`    // "open", "allowlist", "pairing" (default)
	DMAllowFrom    FlexibleStringSlice  `json:"dm_allow_from,omitempty"`
	GroupPolicy    string               `json:"group_policy,omitempty"` // "open", "allowlist", "disabled"
	Groups         map[string]GroupRule `json:"groups,omitempty"`
	GroupAllowFrom FlexibleStringSlice  `json:"group_allow_from,omitempty"`
	MediaMaxMB     int                  `json:"media_max_mb,omitempty"` // default 50

	// AllowUnmentionedCommands admits recognized text commands in group
	// chats without an @mention.
	AllowUnmentionedCommands bool `json:"allow_unmentioned_commands,omitempty"`
}

// RocketConfig is the Rocket.Chat channel section: the default account's
// fields at the top level plus named sub-account overrides.
type RocketConfig struct {
	Enabled *bool `json:"enabled,omitempty"` // channel-level switch, default true

	AccountConfig
	Accounts map[string]AccountConfig `json:"accounts,omitempty"`
}

// GatewayConfig controls the gateway process.
type GatewayConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	MetricsAddr string `json:"metrics_addr,omitempty"` // e.g. ":9199"; empty disables the metrics listener
}

// PairingConfig controls the pairing store.
type PairingConfig struct {
	Storage string `json:"storage,omitempty"` // sqlite file path, default ~/.rockgate/pairing.db
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`     // host:port of the OTLP collector
	Protocol    string `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"` // default "rockgate"
	Insecure    bool   `json:"insecure,omitempty"`
}

// AccountIDs returns the default id plus all named account ids.
func (c *Config) AccountIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := []string{DefaultAccountID}
	for id := range c.Rocket.Accounts {
		if id != DefaultAccountID {
			ids = append(ids, id)
		}
	}
	return ids
}
