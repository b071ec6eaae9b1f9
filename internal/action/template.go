package action

import (
	"strconv"
	"strings"

	"callrelay.app/relay/internal/model"
)

// Variables returns the template variables available to action configs.
func Variables(call *model.Call, agentName string) map[string]string {
	vars := map[string]string{
		"call_id":          "",
		"agent_name":       agentName,
		"status":           "",
		"direction":        "",
		"duration":         "",
		"duration_minutes": "",
		"from_number":      "",
		"to_number":        "",
		"summary":          "",
		"sentiment":        "",
		"recording_url":    "",
	}
	if call == nil {
		return vars
	}

	vars["call_id"] = call.ExternalID
	vars["status"] = string(call.Status)
	vars["direction"] = string(call.Direction)
	vars["from_number"] = call.FromNumber
	vars["to_number"] = call.ToNumber
	if call.DurationSeconds != nil {
		secs := *call.DurationSeconds
		vars["duration"] = strconv.Itoa(secs)
		vars["duration_minutes"] = strconv.FormatFloat(float64(secs)/60, 'f', 1, 64)
	}
	if call.Summary != nil {
		vars["summary"] = *call.Summary
	}
	if call.Sentiment != nil {
		vars["sentiment"] = *call.Sentiment
	}
	if call.RecordingURL != nil {
		vars["recording_url"] = *call.RecordingURL
	}
	return vars
}

// Render replaces each {{name}} in s with vars[name]. Names are matched
// exactly, whitespace inside the braces included; unknown names and
// unterminated placeholders become empty.
func Render(s string, vars map[string]string) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:start])
		rest := s[start+2:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			return b.String()
		}
		b.WriteString(vars[rest[:end]])
		s = rest[end+2:]
	}
}
