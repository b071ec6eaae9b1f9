package normalizer

import "strings"

var (
	positiveCues = []string{
		"thank you", "thanks", "great", "perfect", "awesome", "excellent", "wonderful",
		"appreciate", "sounds good", "happy to", "interested", "love",
	}
	negativeCues = []string{
		"not interested", "angry", "frustrated", "terrible", "awful", "complaint",
		"upset", "unhappy", "disappointed", "stop calling", "waste of time", "ridiculous",
	}
)

// InferSentiment classifies a transcript as positive, negative or neutral by
// counting cue phrases. Providers that report sentiment directly bypass it.
func InferSentiment(transcript string) string {
	text := strings.ToLower(transcript)
	if strings.TrimSpace(text) == "" {
		return "neutral"
	}

	negative := 0
	for _, cue := range negativeCues {
		n := strings.Count(text, cue)
		negative += n
		if cue == "not interested" {
			// do not also credit the embedded "interested"
			text = strings.ReplaceAll(text, cue, " ")
		}
	}
	positive := 0
	for _, cue := range positiveCues {
		positive += strings.Count(text, cue)
	}

	switch {
	case positive > negative:
		return "positive"
	case negative > positive:
		return "negative"
	default:
		return "neutral"
	}
}
