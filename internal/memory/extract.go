package memory

import (
	"regexp"
	"strings"
)

// ExtractedEntity is one entity discovered in record content.
type ExtractedEntity struct {
	Name string
	Kind string
}

// Extractor is the entity-extraction capability injected into the write
// path. The engine consumes its output and never depends on how entities
// are found; swap in anything that satisfies this.
type Extractor interface {
	Extract(content string) []ExtractedEntity
}

// NoopExtractor extracts nothing.
type NoopExtractor struct{}

func (NoopExtractor) Extract(string) []ExtractedEntity { return nil }

// RegexExtractor is the default heuristic extractor: proper-noun phrases
// and a small technology lexicon. Deliberately modest; callers wanting real
// NER plug in their own Extractor.
type RegexExtractor struct{}

var (
	properNounRe = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)*\b`)

	techLexicon = map[string]bool{
		"postgres": true, "postgresql": true, "sqlite": true, "mysql": true,
		"redis": true, "kafka": true, "kubernetes": true, "docker": true,
		"terraform": true, "golang": true, "python": true, "rust": true,
		"typescript": true, "javascript": true, "react": true, "grpc": true,
		"graphql": true, "aws": true, "gcp": true, "azure": true,
	}

	// Words that capitalize at sentence starts but aren't names.
	stopWords = map[string]bool{
		"The": true, "A": true, "An": true, "This": true, "That": true,
		"These": true, "Those": true, "It": true, "I": true, "We": true,
		"My": true, "Our": true, "He": true, "She": true, "They": true,
		"When": true, "Where": true, "What": true, "Why": true, "How": true,
		"If": true, "In": true, "On": true, "At": true, "For": true,
		"And": true, "But": true, "Or": true, "Not": true, "No": true,
		"Yes": true, "Do": true, "Does": true, "Is": true, "Are": true,
		"Use": true, "Always": true, "Never": true,
	}
)

func (RegexExtractor) Extract(content string) []ExtractedEntity {
	seen := make(map[string]bool)
	var out []ExtractedEntity

	add := func(name, kind string) {
		key := strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, ExtractedEntity{Name: name, Kind: kind})
	}

	for _, match := range properNounRe.FindAllString(content, -1) {
		words := strings.Fields(match)
		// Trim leading stop words picked up at sentence starts
		for len(words) > 0 && stopWords[words[0]] {
			words = words[1:]
		}
		if len(words) == 0 {
			continue
		}
		name := strings.Join(words, " ")
		if len(name) < 3 {
			continue
		}
		if techLexicon[strings.ToLower(name)] {
			add(name, "technology")
		} else {
			add(name, "other")
		}
	}

	for _, word := range strings.Fields(strings.ToLower(content)) {
		word = strings.Trim(word, ".,;:!?()[]{}\"'")
		if techLexicon[word] {
			add(word, "technology")
		}
	}

	return out
}
