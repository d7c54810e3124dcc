package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rocket.DMPolicy != "pairing" || cfg.Rocket.GroupPolicy != "open" {
		t.Errorf("policy defaults = %q/%q", cfg.Rocket.DMPolicy, cfg.Rocket.GroupPolicy)
	}
	if cfg.Gateway.Port != 18920 {
		t.Errorf("port default = %d", cfg.Gateway.Port)
	}
	if cfg.Pairing.Storage == "" {
		t.Error("pairing storage default missing")
	}
}

func TestLoad_JSON5WithAccounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		// gateway config
		rocket: {
			server_url: "https://chat.example.com",
			api_key: "tok",
			dm_policy: "allowlist",
			dm_allow_from: ["alice", 42],
			accounts: {
				ops: {
					server_url: "https://ops.example.com",
					username: "bot",
					password: "pw",
				},
			},
		},
		gateway: { host: "127.0.0.1", port: 9000 },
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rocket.ServerURL != "https://chat.example.com" || cfg.Rocket.APIKey != "tok" {
		t.Errorf("rocket section = %+v", cfg.Rocket.AccountConfig)
	}
	// Numeric allow-list entries become strings.
	if len(cfg.Rocket.DMAllowFrom) != 2 || cfg.Rocket.DMAllowFrom[1] != "42" {
		t.Errorf("dm_allow_from = %v", cfg.Rocket.DMAllowFrom)
	}
	ops, ok := cfg.Rocket.Accounts["ops"]
	if !ok || ops.Username != "bot" {
		t.Errorf("accounts = %+v", cfg.Rocket.Accounts)
	}
	if cfg.Gateway.Port != 9000 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ROCKGATE_SERVER_URL", "https://env.example.com")
	t.Setenv("ROCKGATE_PORT", "9100")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rocket.ServerURL != "https://env.example.com" {
		t.Errorf("server_url = %q", cfg.Rocket.ServerURL)
	}
	if cfg.Gateway.Port != 9100 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestFlexibleStringSlice(t *testing.T) {
	var f FlexibleStringSlice
	if err := json.Unmarshal([]byte(`["a", 7, true]`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(f) != 3 || f[0] != "a" || f[1] != "7" || f[2] != "true" {
		t.Errorf("slice = %v", f)
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Rocket.APIKey = "secret-key"
	cfg.Rocket.Accounts = map[string]AccountConfig{
		"ops": {Username: "bot", Password: "secret-pw"},
	}

	masked := cfg.MaskedCopy()
	if masked.Rocket.APIKey != secretMask {
		t.Errorf("api key = %q", masked.Rocket.APIKey)
	}
	if masked.Rocket.Accounts["ops"].Password != secretMask {
		t.Errorf("account password = %q", masked.Rocket.Accounts["ops"].Password)
	}
	if masked.Rocket.Accounts["ops"].Username != "bot" {
		t.Errorf("non-secret masked: %q", masked.Rocket.Accounts["ops"].Username)
	}
	// Original untouched.
	if cfg.Rocket.APIKey != "secret-key" {
		t.Error("MaskedCopy mutated the original")
	}
}

func TestAccountIDs(t *testing.T) {
	cfg := Default()
	cfg.Rocket.Accounts = map[string]AccountConfig{
		"ops":     {},
		"default": {},
	}
	ids := cfg.AccountIDs()
	if len(ids) != 2 || ids[0] != DefaultAccountID {
		t.Errorf("ids = %v", ids)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/x.db"); got != home+"/x.db" {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/abs/x.db"); got != "/abs/x.db" {
		t.Errorf("absolute path changed: %q", got)
	}
}
