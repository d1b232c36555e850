package domain

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const entityIDPrefix = "char:"

// NormalizeEntityName collapses whitespace and caps the display form of a
// character name.
func NormalizeEntityName(name string) string {
	fields := strings.Fields(strings.TrimSpace(name))
	out := strings.Join(fields, " ")
	return truncate(out, 80)
}

// EntityUUIDForName derives the stable entity id from a display name: NFKC
// normalization, whitespace to underscores, letters/digits/underscore/hyphen
// only. Repeated mentions of one name converge to one node through this.
func EntityUUIDForName(name string) string {
	normalized := norm.NFKC.String(NormalizeEntityName(name))
	var b strings.Builder
	for _, r := range normalized {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune('_')
		case unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' || r == '-':
			b.WriteRune(r)
		}
	}
	key := truncate(b.String(), 80)
	if key == "" {
		return ""
	}
	return entityIDPrefix + key
}

// DisplayIDFromEntityRef turns an entity uuid or raw name back into a
// human-readable display id.
func DisplayIDFromEntityRef(nameOrUUID string) string {
	out := strings.TrimPrefix(nameOrUUID, entityIDPrefix)
	out = strings.ReplaceAll(out, "_", " ")
	return truncate(strings.TrimSpace(out), 120)
}

// EventIDForAction is the fallback event name when the extractor supplied
// none.
func EventIDForAction(action, fromName, toName string) string {
	if fromName == "" {
		fromName = "Unknown"
	}
	if toName == "" {
		toName = "Unknown"
	}
	return fmt.Sprintf("event:%s:%s->%s", action, fromName, toName)
}

// EventKeyFor makes event identity unique per (turn, 1-based action index)
// even when the same event name recurs across turns.
func EventKeyFor(turnID string, index int, eventID string) string {
	return fmt.Sprintf("%s:%d:%s", turnID, index+1, eventID)
}

// MilestoneIDFor names the 1-based milestone of a turn.
func MilestoneIDFor(turnID string, index int) string {
	return fmt.Sprintf("milestone:%s:%d", turnID, index+1)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
