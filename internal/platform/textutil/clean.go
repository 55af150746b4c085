package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// CleanText strips markup from caller supplied text, unescapes entities and trims the result.
// Line breaks are folded into spaces.
func CleanText(value string) string {
	if value == "" {
		return ""
	}
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	cleaned = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ").Replace(cleaned)
	return strings.TrimSpace(cleaned)
}

// CleanStringMap cleans every value and trims keys, removing entries with empty keys.
// Nil is returned when nothing remains.
func CleanStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = CleanText(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
