package core

import (
	"regexp"
	"strings"
	"sync"
)

// CodeExtractor pulls verification codes out of raw SMS text. Services with
// known message formats get dedicated patterns; everything else falls through
// to a generic digit-run scan.
type CodeExtractor struct {
	mu       sync.RWMutex
	patterns map[string][]*regexp.Regexp
	generic  []*regexp.Regexp
}

var (
	genericLabeledCode = regexp.MustCompile(`(?i)(?:code|pin|otp|password)\D{0,12}(\d{4,8})`)
	genericDashedCode  = regexp.MustCompile(`\b(\d{3})-(\d{3})\b`)
	genericBareCode    = regexp.MustCompile(`\b(\d{4,8})\b`)
)

func NewCodeExtractor() *CodeExtractor {
	extractor := &CodeExtractor{
		patterns: map[string][]*regexp.Regexp{},
		generic: []*regexp.Regexp{
			genericLabeledCode,
			genericDashedCode,
			genericBareCode,
		},
	}
	extractor.AddPattern("telegram", regexp.MustCompile(`(?i)telegram code[:\s]+(\d{5,6})`))
	extractor.AddPattern("whatsapp", regexp.MustCompile(`\b(\d{3})-(\d{3})\b`))
	extractor.AddPattern("google", regexp.MustCompile(`(?i)g-(\d{6})`))
	return extractor
}

// AddPattern prepends a service-specific pattern. The first capture group is
// the code; multiple groups are concatenated, which handles split formats
// like 123-456.
func (e *CodeExtractor) AddPattern(serviceName string, pattern *regexp.Regexp) {
	if e == nil || pattern == nil {
		return
	}
	key := strings.TrimSpace(strings.ToLower(serviceName))
	if key == "" {
		return
	}
	e.mu.Lock()
	e.patterns[key] = append([]*regexp.Regexp{pattern}, e.patterns[key]...)
	e.mu.Unlock()
}

func (e *CodeExtractor) Extract(serviceName, text string) (string, bool) {
	if e == nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	key := strings.TrimSpace(strings.ToLower(serviceName))
	e.mu.RLock()
	patterns := append([]*regexp.Regexp{}, e.patterns[key]...)
	patterns = append(patterns, e.generic...)
	e.mu.RUnlock()

	for _, pattern := range patterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		code := joinGroups(match)
		if code != "" {
			return code, true
		}
	}
	return "", false
}

func joinGroups(match []string) string {
	if len(match) < 2 {
		return ""
	}
	var builder strings.Builder
	for _, group := range match[1:] {
		builder.WriteString(group)
	}
	return builder.String()
}
