// Package intent classifies inbound message text into a routing intent.
// KeywordClassifier is the deterministic default; ModelClassifier calls an
// external scoring endpoint and falls back to keywords when it misbehaves.
package intent

import (
	"context"
	"strings"

	"github.com/goliatone/go-intake/core"
)

const (
	// KeywordMatchConfidence is reported whenever any keyword hits.
	KeywordMatchConfidence = 0.85
	// FallbackConfidence is reported for the default INFO classification.
	FallbackConfidence = 0.3
)

// DefaultKeywords returns the built-in keyword table. Intents are checked
// in base-priority order so a complaint keyword beats an order keyword when
// both appear in the same message.
func DefaultKeywords() map[core.Intent][]string {
	return map[core.Intent][]string{
		core.IntentComplaint: {
			"complaint", "complain", "problem", "wrong", "refund",
			"missing", "cold", "late", "terrible", "awful", "manager",
		},
		core.IntentOrder: {
			"order", "delivery", "takeout", "take out", "pickup",
			"pick up", "menu", "buy",
		},
		core.IntentReservation: {
			"reservation", "reserve", "book", "booking", "table for",
			"party of",
		},
	}
}

type KeywordClassifier struct {
	keywords map[core.Intent][]string
}

// NewKeywordClassifier builds a classifier over the given keyword table.
// A nil or empty table falls back to DefaultKeywords.
func NewKeywordClassifier(keywords map[core.Intent][]string) *KeywordClassifier {
	if len(keywords) == 0 {
		keywords = DefaultKeywords()
	}
	normalized := make(map[core.Intent][]string, len(keywords))
	for intent, words := range keywords {
		for _, word := range words {
			word = strings.ToLower(strings.TrimSpace(word))
			if word == "" {
				continue
			}
			normalized[intent] = append(normalized[intent], word)
		}
	}
	return &KeywordClassifier{keywords: normalized}
}

// Classify scans the text for keywords, trying intents in base-priority
// order. Unmatched text classifies as INFO with low confidence.
func (c *KeywordClassifier) Classify(_ context.Context, text string) (core.Classification, error) {
	keywords := c.keywordTable()
	haystack := strings.ToLower(text)
	for _, intent := range core.Intents() {
		for _, word := range keywords[intent] {
			if strings.Contains(haystack, word) {
				return core.Classification{Intent: intent, Confidence: KeywordMatchConfidence}, nil
			}
		}
	}
	return core.Classification{Intent: core.IntentInfo, Confidence: FallbackConfidence}, nil
}

func (c *KeywordClassifier) keywordTable() map[core.Intent][]string {
	if c == nil || len(c.keywords) == 0 {
		return DefaultKeywords()
	}
	return c.keywords
}

var _ core.Classifier = (*KeywordClassifier)(nil)
