package evolution

import "strings"

// =============================================================================
// DEFENSIVE JSON EXTRACTION
// =============================================================================
// Oracle responses are supposed to be bare JSON but in practice arrive
// wrapped in markdown fences, prose, or both. These helpers dig the JSON
// out without trusting the surrounding text.

// extractJSONBlock pulls JSON out of a markdown code fence if present,
// otherwise falls back to brace matching on the raw text.
func extractJSONBlock(text string) string {
	if idx := strings.Index(text, "```json"); idx != -1 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if idx := strings.Index(text, "```"); idx != -1 {
		rest := text[idx+3:]
		if end := strings.Index(rest, "```"); end != -1 {
			candidate := strings.TrimSpace(rest[:end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}
	return extractJSONObject(text)
}

// extractJSONObject finds the first balanced top-level JSON object in text.
// Braces inside string literals are ignored.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

// truncateString bounds a string for logs and audit entries.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// clampScore confines an oracle-reported score to the [0,10] scale.
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
