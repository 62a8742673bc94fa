package memory

import (
	"math"
	"regexp"
	"strings"

	"github.com/lazypower/engram/internal/store"
)

// Importance scoring: content signals only, used when the caller doesn't
// supply an explicit importance. All contributions are additive on a 3.0
// baseline, clamped to [0,10] and rounded to one decimal.
const (
	importanceBaseline    = 3.0
	maxComplexityBonus    = 3.0
	maxEntityBonus        = 2.0
	perEntityBonus        = 0.5
	preferenceBonus       = 2.0
	provenanceBonus       = 0.5
	metadataBonus         = 0.5
	explicitBonus         = 1.0
	relationshipKindBonus = 1.0
	entityKindBonus       = 0.5
)

var (
	preferenceRe = regexp.MustCompile(`(?i)\b(prefer|prefers|preferred|like|likes|love|loves|hate|hates|favorite|favourite|want|wants|always|never)\b`)
	hedgeRe      = regexp.MustCompile(`(?i)\b(maybe|might|perhaps|possibly|probably|i think|i guess|not sure|seems?|could be)\b`)
	assertiveRe  = regexp.MustCompile(`(?i)\b(is|are|am|was|were|has|have|will|must|does|do)\b`)
	techTokenRe  = regexp.MustCompile(`[0-9_./\\-]|[a-z][A-Z]`)
)

// ComputeImportance derives an importance score from content signals.
func ComputeImportance(content, kind string, entityCount int, hasProvenance, hasMetadata bool) float64 {
	score := importanceBaseline

	score += complexityBonus(content)

	entityBonus := float64(entityCount) * perEntityBonus
	if entityBonus > maxEntityBonus {
		entityBonus = maxEntityBonus
	}
	score += entityBonus

	if preferenceRe.MatchString(content) {
		score += preferenceBonus
	}
	if hasProvenance {
		score += provenanceBonus
	}
	if hasMetadata {
		score += metadataBonus
	}
	if assertiveRe.MatchString(content) && !hedgeRe.MatchString(content) {
		score += explicitBonus
	}

	switch kind {
	case store.KindRelationship:
		score += relationshipKindBonus
	case store.KindEntity:
		score += entityKindBonus
	}

	return ClampImportance(score)
}

// complexityBonus scores length, word count, and technical-token density,
// capped at 3.0.
func complexityBonus(content string) float64 {
	bonus := 0.0

	if len(content) >= 200 {
		bonus += 1.0
	}

	words := strings.Fields(content)
	switch {
	case len(words) >= 20:
		bonus += 1.0
	case len(words) >= 10:
		bonus += 0.5
	}

	if len(words) > 0 {
		technical := 0
		for _, w := range words {
			if techTokenRe.MatchString(w) {
				technical++
			}
		}
		if float64(technical)/float64(len(words)) > 0.15 {
			bonus += 1.0
		}
	}

	if bonus > maxComplexityBonus {
		bonus = maxComplexityBonus
	}
	return bonus
}

// ClampImportance clamps to [0,10] and rounds to one decimal.
func ClampImportance(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 10 {
		v = 10
	}
	return math.Round(v*10) / 10
}

// NormalizeContent is the canonical form stored and indexed: trimmed, with
// Windows line endings folded.
func NormalizeContent(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.TrimSpace(content)
}
