package reconciler

import (
	"strings"

	"github.com/schoolops/rollcall/pkg/types"
)

// Matcher joins roster members to scan actors. The stable-identifier
// matcher is the default; the display-name matcher is a deprecated
// legacy mode kept only for upstreams that cannot supply actor ids.
type Matcher interface {
	// MemberKey returns the join key for a roster member
	MemberKey(m types.Member) string

	// ActorKey returns the join key for a scan event
	ActorKey(e types.ScanEvent) string
}

// IDMatcher joins by stable external identifier
type IDMatcher struct{}

func (IDMatcher) MemberKey(m types.Member) string   { return m.ID }
func (IDMatcher) ActorKey(e types.ScanEvent) string { return e.ActorID }

// NameMatcher joins by lower-cased display name.
//
// Deprecated: name joins are fragile under case, whitespace, and
// homonym collisions. Use IDMatcher unless the access log cannot
// supply stable actor ids.
type NameMatcher struct{}

func (NameMatcher) MemberKey(m types.Member) string {
	return strings.ToLower(strings.TrimSpace(m.DisplayName))
}

func (NameMatcher) ActorKey(e types.ScanEvent) string {
	return strings.ToLower(strings.TrimSpace(e.ActorName))
}
