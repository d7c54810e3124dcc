// Package policy decides whether an inbound message may reach the agent
// layer: group and DM admission, pairing, command authorization, and
// mention gating. A drop is not an error; the message is discarded with a
// logged reason and no other side effect.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/rockgate/internal/accounts"
	"github.com/nextlevelbuilder/rockgate/internal/bus"
	"github.com/nextlevelbuilder/rockgate/internal/target"
)

// DM and group policy values.
const (
	DMOpen      = "open"
	DMAllowlist = "allowlist"
	DMPairing   = "pairing"

	GroupOpen      = "open"
	GroupAllowlist = "allowlist"
	GroupDisabled  = "disabled"
)

// DropReason tags why a message was discarded.
type DropReason string

const (
	DropNone                DropReason = ""
	DropNoPayload           DropReason = "no payload"
	DropSelfMessage         DropReason = "self message"
	DropGroupDisabled       DropReason = "group chats disabled"
	DropGroupNotAllowed     DropReason = "group not in allowlist"
	DropSenderNotAllowed    DropReason = "sender not in group allowlist"
	DropDMNotAllowed        DropReason = "dm sender not allowed"
	DropPairingPending      DropReason = "pairing approval pending"
	DropUnauthorizedCommand DropReason = "control command (unauthorized)"
	DropMentionRequired     DropReason = "mention required"
)

// Decision is the outcome of one policy evaluation. Computed per message,
// never stored.
type Decision struct {
	Admitted         bool
	Reason           DropReason
	PairingTriggered bool
}

func admit() Decision                 { return Decision{Admitted: true} }
func drop(reason DropReason) Decision { return Decision{Reason: reason} }

// PairingStore persists DM pairing approvals and outstanding requests.
type PairingStore interface {
	// IsPaired reports whether the sender has an approved pairing.
	IsPaired(ctx context.Context, accountID, userID string) (bool, error)
	// RequestPairing records a pairing request unless one is already
	// outstanding, returning the code and whether a new request was made.
	RequestPairing(ctx context.Context, accountID, userID string) (code string, created bool, err error)
}

// MentionMatcher detects whether the gateway's own identity is mentioned in
// a group message. Provided by the host platform.
type MentionMatcher interface {
	HasPatterns() bool
	Mentioned(content string) bool
}

// CommandMatcher recognizes control commands by pattern. Provided by the
// host platform.
type CommandMatcher interface {
	IsCommand(content string) bool
}

// ReplySender delivers policy-originated replies, currently only the
// pairing-code message.
type ReplySender interface {
	SendReply(ctx context.Context, accountID, targetID, content string) error
}

// Engine evaluates the admission rules for one channel. All collaborators
// are optional; a nil matcher disables the checks that need it.
type Engine struct {
	pairing  PairingStore
	mentions MentionMatcher
	commands CommandMatcher
	replies  ReplySender
}

// NewEngine creates a policy engine.
func NewEngine(pairing PairingStore, mentions MentionMatcher, commands CommandMatcher, replies ReplySender) *Engine {
	return &Engine{pairing: pairing, mentions: mentions, commands: commands, replies: replies}
}

// IsSelf reports whether the message came from the account's own identity,
// either the configured bot user id or the payload's self-reported id.
// Self messages are filtered before policy evaluation.
func IsSelf(acct accounts.Resolved, msg *bus.InboundMessage) bool {
	if msg.FromUserID == "" {
		return false
	}
	if acct.BotUserID != "" && msg.FromUserID == acct.BotUserID {
		return true
	}
	return msg.SelfUserID != "" && msg.FromUserID == msg.SelfUserID
}

// Evaluate runs the admission steps in order, short-circuiting on the first
// drop.
func (e *Engine) Evaluate(ctx context.Context, acct accounts.Resolved, msg *bus.InboundMessage) Decision {
	if !msg.HasPayload() {
		return e.dropped(msg, drop(DropNoPayload))
	}

	res := target.Resolve(msg.ToTarget)
	isGroup := msg.IsGroup || res.Kind == target.KindGroup
	isCommand := e.commands != nil && msg.Content != "" && e.commands.IsCommand(msg.Content)

	var rule *matchedGroup
	if isGroup {
		var d Decision
		rule, d = e.groupAdmission(acct, res.ID)
		if !d.Admitted {
			return e.dropped(msg, d)
		}
		if d := e.groupSenderAdmission(acct, rule, msg.FromUserID); !d.Admitted {
			return e.dropped(msg, d)
		}
	} else {
		if d := e.dmAdmission(ctx, acct, msg); !d.Admitted {
			return e.dropped(msg, d)
		}
	}

	commandAuthorized := false
	if isCommand {
		if d := e.commandAuthorization(ctx, acct, rule, isGroup, msg.FromUserID); !d.Admitted {
			slog.Warn("control command blocked", "account", acct.AccountID, "sender", msg.FromUserID)
			return e.dropped(msg, d)
		}
		commandAuthorized = true
	}

	if isGroup {
		if d := e.mentionGating(acct, rule, msg, isCommand, commandAuthorized); !d.Admitted {
			return e.dropped(msg, d)
		}
	}

	return admit()
}

func (e *Engine) dropped(msg *bus.InboundMessage, d Decision) Decision {
	slog.Debug("message dropped by policy",
		"message_id", msg.ID, "sender", msg.FromUserID, "target", msg.ToTarget, "reason", string(d.Reason))
	return d
}

// matchedGroup is the configured entry matched for a group chat.
type matchedGroup struct {
	users          []string
	requireMention *bool
	wildcard       bool
}

// groupAdmission applies the account's group policy to the group id.
func (e *Engine) groupAdmission(acct accounts.Resolved, groupID string) (*matchedGroup, Decision) {
	switch acct.GroupPolicy {
	case GroupDisabled:
		return nil, drop(DropGroupDisabled)
	case GroupOpen, "":
		return matchGroupRule(acct, groupID), admit()
	case GroupAllowlist:
		if len(acct.Groups) == 0 {
			return nil, drop(DropGroupNotAllowed)
		}
		rule := matchGroupRule(acct, groupID)
		if rule == nil {
			return nil, drop(DropGroupNotAllowed)
		}
		return rule, admit()
	default:
		return nil, drop(DropGroupNotAllowed)
	}
}

// matchGroupRule finds the configured entry for a group id, falling back to
// the wildcard entry. Keys match by resolved id, so the bare spelling "dev"
// and the marked spellings "#dev" and "group:dev" name the same entry.
func matchGroupRule(acct accounts.Resolved, groupID string) *matchedGroup {
	want := target.Resolve("group:" + groupID)
	var wildcard *matchedGroup
	for key, rule := range acct.Groups {
		m := &matchedGroup{users: rule.Users, requireMention: rule.RequireMention}
		if key == "*" {
			m.wildcard = true
			wildcard = m
			continue
		}
		if got := target.Resolve(key); strings.EqualFold(got.ID, want.ID) {
			return m
		}
	}
	return wildcard
}

// groupSenderAdmission checks the sender against the matched group entry's
// user list, falling back to the channel-level group allow-list. An empty
// effective list admits by default.
func (e *Engine) groupSenderAdmission(acct accounts.Resolved, rule *matchedGroup, sender string) Decision {
	list := groupUserList(acct, rule)
	if len(list) == 0 {
		return admit()
	}
	if senderAllowed(sender, list) {
		return admit()
	}
	return drop(DropSenderNotAllowed)
}

func groupUserList(acct accounts.Resolved, rule *matchedGroup) []string {
	if rule != nil && len(rule.users) > 0 {
		return rule.users
	}
	return acct.GroupAllowFrom
}

// dmAdmission applies the account's DM policy. Under pairing, an unlisted
// sender triggers at most one outstanding pairing request and a reply
// carrying the code.
func (e *Engine) dmAdmission(ctx context.Context, acct accounts.Resolved, msg *bus.InboundMessage) Decision {
	switch acct.DMPolicy {
	case DMOpen:
		return admit()
	case DMAllowlist:
		if senderAllowed(msg.FromUserID, acct.DMAllowFrom) || e.isPaired(ctx, acct.AccountID, msg.FromUserID) {
			return admit()
		}
		return drop(DropDMNotAllowed)
	case DMPairing, "":
		if senderAllowed(msg.FromUserID, acct.DMAllowFrom) || e.isPaired(ctx, acct.AccountID, msg.FromUserID) {
			return admit()
		}
		return e.triggerPairing(ctx, acct, msg)
	default:
		return drop(DropDMNotAllowed)
	}
}

func (e *Engine) isPaired(ctx context.Context, accountID, userID string) bool {
	if e.pairing == nil {
		return false
	}
	paired, err := e.pairing.IsPaired(ctx, accountID, userID)
	if err != nil {
		slog.Warn("pairing lookup failed", "account", accountID, "user", userID, "error", err)
		return false
	}
	return paired
}

// triggerPairing creates a pairing request for an unlisted DM sender and
// replies with the code. A request already outstanding for the sender
// suppresses both. A failed reply is logged, not fatal.
func (e *Engine) triggerPairing(ctx context.Context, acct accounts.Resolved, msg *bus.InboundMessage) Decision {
	if e.pairing == nil {
		return drop(DropDMNotAllowed)
	}

	code, created, err := e.pairing.RequestPairing(ctx, acct.AccountID, msg.FromUserID)
	if err != nil {
		slog.Warn("pairing request failed",
			"account", acct.AccountID, "user", msg.FromUserID, "error", err)
		return drop(DropPairingPending)
	}
	if !created {
		return drop(DropPairingPending)
	}

	slog.Info("pairing request created", "account", acct.AccountID, "user", msg.FromUserID)
	if e.replies != nil {
		reply := fmt.Sprintf(
			"Pairing request received. Your code is %s. An administrator must approve it with `rockgate pairing approve %s` before your messages are processed.",
			code, code)
		if err := e.replies.SendReply(ctx, acct.AccountID, msg.ToTarget, reply); err != nil {
			slog.Warn("pairing reply failed",
				"account", acct.AccountID, "user", msg.FromUserID, "error", err)
		}
	}
	return Decision{Reason: DropPairingPending, PairingTriggered: true}
}

// commandAuthorization requires the sender to be in the applicable
// allow-list when enforcement is active. Enforcement is active only when
// the effective list is non-empty; with no list configured the command
// passes through. Paired DM senders count as listed.
func (e *Engine) commandAuthorization(ctx context.Context, acct accounts.Resolved, rule *matchedGroup, isGroup bool, sender string) Decision {
	var list []string
	if isGroup {
		list = groupUserList(acct, rule)
	} else {
		list = acct.DMAllowFrom
	}
	if len(list) == 0 {
		return admit()
	}
	if senderAllowed(sender, list) {
		return admit()
	}
	if !isGroup && e.isPaired(ctx, acct.AccountID, sender) {
		return admit()
	}
	return drop(DropUnauthorizedCommand)
}

// mentionGating requires an @mention in group chats unless the matched
// entry opts out, mention detection is unavailable, the sender issued an
// authorized control command, or the account admits unmentioned text
// commands.
func (e *Engine) mentionGating(acct accounts.Resolved, rule *matchedGroup, msg *bus.InboundMessage, isCommand, commandAuthorized bool) Decision {
	required := true
	if rule != nil && rule.requireMention != nil {
		required = *rule.requireMention
	}
	if !required {
		return admit()
	}
	if e.mentions == nil || !e.mentions.HasPatterns() {
		return admit()
	}
	if isCommand && (commandAuthorized || acct.AllowUnmentionedCommands) {
		return admit()
	}
	if e.mentions.Mentioned(msg.Content) {
		return admit()
	}
	return drop(DropMentionRequired)
}

// senderAllowed matches a sender id against an allow-list after
// normalization; a "*" entry admits anyone.
func senderAllowed(sender string, list []string) bool {
	if sender == "" {
		return false
	}
	want := target.Normalize("user:" + sender)
	for _, entry := range list {
		n := target.Normalize(entry)
		if n == "*" || n == want {
			return true
		}
		// Bare entries without a kind prefix also match by id.
		if strings.EqualFold(strings.TrimPrefix(n, "#"), strings.TrimPrefix(want, "@")) {
			return true
		}
	}
	return false
}
