package detective

import (
	"strings"

	"github.com/SafeInboxAI/warden/pkg/store"
)

// Tone buckets for conversation analysis.
const (
	ToneUrgent    = "urgent"
	TonePolite    = "polite"
	ToneDemanding = "demanding"
	ToneNeutral   = "neutral"
)

// toneKeywords is checked in order; the first bucket with a keyword hit
// wins, so urgent outranks polite outranks demanding.
var toneKeywords = []struct {
	tone  string
	words []string
}{
	{ToneUrgent, []string{"urgent", "immediate", "deadline"}},
	{TonePolite, []string{"please", "kindly", "thank you"}},
	{ToneDemanding, []string{"must", "required", "mandatory"}},
}

// DetectTone classifies an email body by keyword presence.
func DetectTone(body string) string {
	lower := strings.ToLower(body)
	for _, bucket := range toneKeywords {
		for _, word := range bucket.words {
			if strings.Contains(lower, word) {
				return bucket.tone
			}
		}
	}
	return ToneNeutral
}

// historicalTone returns the mode tone of the given history entries.
// Ties resolve by tone precedence, matching DetectTone's ordering.
func historicalTone(entries []*store.ConversationEntry) string {
	if len(entries) == 0 {
		return ToneNeutral
	}
	counts := make(map[string]int, 4)
	for _, entry := range entries {
		counts[DetectTone(entry.BodySnippet)]++
	}
	best, bestCount := ToneNeutral, -1
	for _, tone := range []string{ToneUrgent, TonePolite, ToneDemanding, ToneNeutral} {
		if counts[tone] > bestCount {
			best, bestCount = tone, counts[tone]
		}
	}
	return best
}
