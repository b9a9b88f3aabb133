package downloader

import (
	"fmt"
	"regexp"
	"strings"
)

type urlRule struct {
	name    string
	pattern *regexp.Regexp
}

// urlRules are tried in order; the first match wins. Specific shapes come
// before the catch-alls so ClassifyURL reports the most precise rule.
var urlRules = []urlRule{
	{name: "video", pattern: regexp.MustCompile(`^https?://(?:www\.)?tiktok\.com/@[\w.-]+/video/\d+`)},
	{name: "vm-short", pattern: regexp.MustCompile(`^https?://(?:vm\.)?tiktok\.com/[\w.-]+`)},
	{name: "vt-short", pattern: regexp.MustCompile(`^https?://(?:vt\.)?tiktok\.com/[\w.-]+`)},
	{name: "t-short", pattern: regexp.MustCompile(`^https?://(?:www\.)?tiktok\.com/t/[\w.-]+`)},
	{name: "mobile", pattern: regexp.MustCompile(`^https?://m\.tiktok\.com/v/\d+\.html`)},
	{name: "any", pattern: regexp.MustCompile(`^https?://(?:www\.)?tiktok\.com/.*`)},
	{name: "vm-any", pattern: regexp.MustCompile(`^https?://vm\.tiktok\.com/.*`)},
	{name: "vt-any", pattern: regexp.MustCompile(`^https?://vt\.tiktok\.com/.*`)},
}

// ClassifyURL reports the name of the first rule matching raw.
func ClassifyURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	for _, rule := range urlRules {
		if rule.pattern.MatchString(raw) {
			return rule.name, true
		}
	}
	return "", false
}

// IsValidURL reports whether raw looks like a TikTok video URL.
func IsValidURL(raw string) bool {
	_, ok := ClassifyURL(raw)
	return ok
}

// ValidateURL trims raw and returns it, or an invalid-URL error.
func ValidateURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", wrapCategory(CategoryInvalidURL, fmt.Errorf("%w: empty input", ErrInvalidURL))
	}
	if !IsValidURL(trimmed) {
		return "", wrapCategory(CategoryInvalidURL, fmt.Errorf("%w: %q", ErrInvalidURL, trimmed))
	}
	return trimmed, nil
}
