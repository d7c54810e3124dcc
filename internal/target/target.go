// Package target canonicalizes free-form Rocket.Chat user/group identifiers
// into the stable "@user" / "#group" form used across the gateway.
package target

import (
	"fmt"
	"strings"
)

// Kind distinguishes direct-message and group targets.
type Kind string

const (
	KindUser  Kind = "user"
	KindGroup Kind = "group"
)

// channelPrefix is an optional leading channel-name marker, stripped
// case-insensitively ("rocketchat:bob" → "bob").
const channelPrefix = "rocketchat:"

// Resolved is the outcome of target resolution.
type Resolved struct {
	Kind       Kind
	ID         string
	Normalized string
}

// Normalize canonicalizes a raw identifier. Rules, in order:
//
//	""            → ""
//	"*"           → "*" (wildcard marker, kept verbatim)
//	"user:<id>"   → "@<id>"
//	"group:<id>"  → "#<id>"
//	"@x" / "#x"   → unchanged prefix, lower-cased tail
//	all digits    → "#<digits>" (numeric ids default to rooms)
//	anything else → lower-cased
//
// Normalize is idempotent.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= len(channelPrefix) && strings.EqualFold(s[:len(channelPrefix)], channelPrefix) {
		s = s[len(channelPrefix):]
	}
	if s == "" {
		return ""
	}
	if s == "*" {
		return "*"
	}

	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "user:"):
		return "@" + lower[len("user:"):]
	case strings.HasPrefix(lower, "group:"):
		return "#" + lower[len("group:"):]
	case strings.HasPrefix(s, "@"):
		return "@" + lower[1:]
	case strings.HasPrefix(s, "#"):
		return "#" + lower[1:]
	case isDigits(s):
		return "#" + s
	}
	return lower
}

// Resolve normalizes raw and reports whether it names a user or a group.
// Bare strings with no marker default to group.
func Resolve(raw string) Resolved {
	n := Normalize(raw)
	switch {
	case strings.HasPrefix(n, "@"):
		return Resolved{Kind: KindUser, ID: n[1:], Normalized: n}
	case strings.HasPrefix(n, "#"):
		return Resolved{Kind: KindGroup, ID: n[1:], Normalized: n}
	}
	return Resolved{Kind: KindGroup, ID: n, Normalized: n}
}

// Validate rejects targets that normalize to nothing usable.
func Validate(raw string) error {
	n := Normalize(raw)
	if n == "" {
		return fmt.Errorf("empty target %q", raw)
	}
	if n == "@" || n == "#" {
		return fmt.Errorf("target %q has a prefix but no id", raw)
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
