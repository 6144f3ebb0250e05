package observer

import (
	"regexp"
	"strings"
)

// teamRef matches a reference to a specific team: "team dev", or "the dev
// team" / "the team" closing a clause or followed by a roster.
const teamRef = `(?:team ["'@]?[\w-]+|(?:the )?["'@]?[\w-]+["']? team\b(?:\s*$|\s*[.,;:!)(]|\s+(?:with|and|alongside)\b))`

// countWord matches a member count.
const countWord = `(?:\d+|two|three|four|five|six|seven|eight|several|multiple)`

// Team structure changes between invocations, so observation lines that
// assert rosters, membership or composition are dropped before injection.
var staleTeamPatterns = []*regexp.Regexp{
	// rosters
	regexp.MustCompile(`(?i)\byour team (?:includes|consists of|is made up of|members are|has members)\b`),
	regexp.MustCompile(`(?i)\b(?:your )?teammates (?:are|include)\b`),
	regexp.MustCompile(`(?i)\b(?:your )?teammates:`),
	regexp.MustCompile(`(?i)\bteam (?:roster|members)\s*(?::|are\b|include\b)`),
	// membership
	regexp.MustCompile(`(?i)\b(?:you|i|we)(?:'re|'m| are| am)? (?:in|on|part of|a member of|members of) ` + teamRef),
	regexp.MustCompile(`(?i)\bbelongs? to ` + teamRef),
	// composition
	regexp.MustCompile(`(?i)\bteam\b[^.\n]*\b(?:comprises|is composed of|consists of|is made up of) (?:@|(?:` + countWord + ` )?(?:other )?(?:agents?|members?)\b)`),
	regexp.MustCompile(`(?i)\bteam\b[^.\n]*\bwith (?:` + countWord + `|other) (?:other )?agents?\b`),
	regexp.MustCompile(`(?i)\bteam\b[^.\n]*\b(?:has|contains|includes) ` + countWord + ` (?:other )?(?:agents?|members?)\b(?:\s*$|\s*[.,;:)(]|\s+(?:and|including|named|called)\b)`),
}

// IsStaleTeamReference reports whether line asserts team structure.
func IsStaleTeamReference(line string) bool {
	for _, re := range staleTeamPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// FilterStaleTeamReferences removes lines asserting team structure. Other
// lines are kept verbatim and in order, so applying it twice is a no-op.
func FilterStaleTeamReferences(text string) string {
	if text == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !IsStaleTeamReference(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
