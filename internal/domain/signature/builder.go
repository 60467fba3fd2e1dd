// Package signature builds the canonical, deterministic human-readable
// string used both as the permission engine's matching key and as the
// human-facing description in approval messages.
package signature

import (
	"fmt"
	"sort"
	"strings"
)

// PartsFunc extracts the ordered signature parts for one tool's arguments.
// Implementations must be pure and must not mutate args.
type PartsFunc func(args map[string]any) []string

// Builder holds the per-tool registry of canonical builders, falling back
// to the sorted-keys builder for anything unregistered.
type Builder struct {
	builders map[string]PartsFunc
}

// NewBuilder returns a Builder pre-seeded with the reference namespace's
// canonical tools (ha_call_service, ha_get_state, ha_get_states,
// ha_fire_event). Callers may Register additional tools for other
// namespaces.
func NewBuilder() *Builder {
	b := &Builder{builders: make(map[string]PartsFunc)}
	b.Register("ha_call_service", func(args map[string]any) []string {
		domain := stringArg(args, "domain")
		service := stringArg(args, "service")
		entityID := stringArg(args, "entity_id")
		return []string{fmt.Sprintf("%s.%s", domain, service), entityID}
	})
	b.Register("ha_get_state", func(args map[string]any) []string {
		return []string{stringArg(args, "entity_id")}
	})
	b.Register("ha_get_states", func(args map[string]any) []string {
		return nil
	})
	b.Register("ha_fire_event", func(args map[string]any) []string {
		return []string{stringArg(args, "event_type")}
	})
	return b
}

// Register installs or overrides the canonical builder for a tool name.
func (b *Builder) Register(toolName string, fn PartsFunc) {
	b.builders[toolName] = fn
}

// Build returns the canonical signature for (toolName, args): either
// "tool(part1, part2, ...)" or bare "tool" when there are no parts.
func (b *Builder) Build(toolName string, args map[string]any) string {
	fn, ok := b.builders[toolName]
	var parts []string
	if ok {
		parts = fn(args)
	} else {
		parts = fallbackParts(args)
	}
	if len(parts) == 0 {
		return toolName
	}
	return fmt.Sprintf("%s(%s)", toolName, strings.Join(parts, ", "))
}

// fallbackParts sorts argument keys lexicographically and stringifies each
// value, guaranteeing a signature independent of map iteration order.
func fallbackParts(args map[string]any) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, stringify(args[k]))
	}
	return parts
}

func stringArg(args map[string]any, key string) string {
	return stringify(args[key])
}

// stringify renders a JSON scalar/structure the way Python's str() would
// for the common cases the reference namespace relies on: plain strings
// unquoted, everything else via fmt's default verb.
func stringify(v any) string {
	if v == nil {
		return "None"
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
