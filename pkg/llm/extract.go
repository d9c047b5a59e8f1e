package llm

import "strings"

// ExtractJSON strips markdown code fences from a model response so the
// remainder can be fed to json.Unmarshal. Models routinely wrap JSON in
// ```json blocks despite instructions not to.
func ExtractJSON(response string) string {
	cleaned := response

	if start := strings.Index(cleaned, "```json"); start != -1 {
		cleaned = cleaned[start+7:]
		if end := strings.Index(cleaned, "```"); end != -1 {
			cleaned = cleaned[:end]
		}
	} else if start := strings.Index(cleaned, "```"); start != -1 {
		cleaned = cleaned[start+3:]
		if end := strings.Index(cleaned, "```"); end != -1 {
			cleaned = cleaned[:end]
		}
	}

	return strings.TrimSpace(cleaned)
}
