// Package accounts resolves the effective configuration for one gateway
// account by merging the channel-level default section with a named
// sub-account override. Resolution is performed fresh on every call; a
// Resolved value is never mutated after construction.
package accounts

import (
	"fmt"

	"github.com/nextlevelbuilder/rockgate/internal/config"
)

// Resolved is the effective account configuration.
type Resolved struct {
	AccountID string
	config.AccountConfig

	// Configured is true when the server URL is present and exactly one
	// credential scheme is fully present.
	Configured bool
	// Enabled is the AND of the channel-level and account-level flags.
	Enabled bool
}

// Resolve builds the effective account for accountID. The default id takes
// the channel-level fields as-is. A named id merges its override onto the
// defaults; an unknown named id yields an unconfigured sentinel rather than
// an error; callers must check Configured before use.
func Resolve(cfg *config.Config, accountID string) Resolved {
	if accountID == "" {
		accountID = config.DefaultAccountID
	}

	channelEnabled := cfg.Rocket.Enabled == nil || *cfg.Rocket.Enabled
	base := cfg.Rocket.AccountConfig

	var eff config.AccountConfig
	accountEnabled := true

	if accountID == config.DefaultAccountID {
		eff = base
	} else {
		override, ok := cfg.Rocket.Accounts[accountID]
		if !ok {
			return Resolved{AccountID: accountID, Enabled: channelEnabled}
		}
		eff = merge(base, override)
		accountEnabled = override.Enabled == nil || *override.Enabled
	}

	if eff.DMPolicy == "" {
		eff.DMPolicy = "pairing"
	}
	if eff.GroupPolicy == "" {
		eff.GroupPolicy = "open"
	}
	if eff.MediaMaxMB <= 0 {
		eff.MediaMaxMB = 50
	}

	r := Resolved{
		AccountID:     accountID,
		AccountConfig: eff,
		Enabled:       channelEnabled && accountEnabled,
	}
	r.Configured = eff.ServerURL != "" && credentialsComplete(eff)
	return r
}

// Validate reports descriptive configuration errors that Resolve does not
// surface: incomplete or ambiguous credentials on an otherwise present
// account. An unconfigured-but-blank account validates clean.
func (r Resolved) Validate() error {
	hasKey := r.APIKey != ""
	hasUser := r.Username != ""
	hasPass := r.Password != ""

	if hasUser != hasPass {
		missing := "password"
		if hasPass {
			missing = "username"
		}
		return fmt.Errorf("account %q: username/password auth is incomplete (missing %s)", r.AccountID, missing)
	}
	if hasKey && hasUser {
		return fmt.Errorf("account %q: both api_key and username/password are set, pick one", r.AccountID)
	}
	if r.ServerURL == "" && (hasKey || hasUser) {
		return fmt.Errorf("account %q: credentials set but server_url is empty", r.AccountID)
	}
	return nil
}

func credentialsComplete(a config.AccountConfig) bool {
	if a.APIKey != "" {
		return a.Username == "" && a.Password == ""
	}
	return a.Username != "" && a.Password != ""
}

// merge overlays non-zero override fields onto the defaults. Collections
// replace rather than append: a named account that sets its own allow-list
// owns it entirely.
func merge(base, o config.AccountConfig) config.AccountConfig {
	out := base
	out.Enabled = o.Enabled
	if o.ServerURL != "" {
		out.ServerURL = o.ServerURL
	}
	if o.WSURL != "" {
		out.WSURL = o.WSURL
	}
	if o.WebhookPath != "" {
		out.WebhookPath = o.WebhookPath
	}
	if o.APIKey != "" || o.Username != "" || o.Password != "" {
		// Credentials move as a unit so a sub-account cannot inherit half
		// of the default's scheme.
		out.APIKey = o.APIKey
		out.Username = o.Username
		out.Password = o.Password
	}
	if o.BotUserID != "" {
		out.BotUserID = o.BotUserID
	}
	if o.DMPolicy != "" {
		out.DMPolicy = o.DMPolicy
	}
	if len(o.DMAllowFrom) > 0 {
		out.DMAllowFrom = o.DMAllowFrom
	}
	if o.GroupPolicy != "" {
		out.GroupPolicy = o.GroupPolicy
	}
	if len(o.Groups) > 0 {
		out.Groups = o.Groups
	}
	if len(o.GroupAllowFrom) > 0 {
		out.GroupAllowFrom = o.GroupAllowFrom
	}
	if o.MediaMaxMB > 0 {
		out.MediaMaxMB = o.MediaMaxMB
	}
	if o.AllowUnmentionedCommands {
		out.AllowUnmentionedCommands = true
	}
	return out
}
