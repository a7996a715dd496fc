package agents

import (
	"regexp"
	"strings"
	"sync"
)

const thinkCloseTag = "</think>"

// SplitThink separates a reasoning preamble ending in </think> from the
// answer. Without the tag, think is empty and rest is the trimmed content.
func SplitThink(content string) (think, rest string) {
	before, after, found := strings.Cut(content, thinkCloseTag)
	if !found {
		return "", strings.TrimSpace(content)
	}
	think = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(before), "<think>"))
	return think, strings.TrimSpace(after)
}

var (
	tagPatternsMu sync.Mutex
	tagPatterns   = map[string]*regexp.Regexp{}
)

func tagPattern(tag string) *regexp.Regexp {
	tagPatternsMu.Lock()
	defer tagPatternsMu.Unlock()

	if re, ok := tagPatterns[tag]; ok {
		return re
	}
	re := regexp.MustCompile(`(?s)<` + regexp.QuoteMeta(tag) + `>(.*?)</` + regexp.QuoteMeta(tag) + `>`)
	tagPatterns[tag] = re
	return re
}

// ExtractTag returns the trimmed text of the first <tag>...</tag> element,
// or "" when there is none.
func ExtractTag(text, tag string) string {
	match := tagPattern(tag).FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(match[1])
}

// ExtractCode returns the code between <code> and </code>. An unterminated
// block runs to the end of the text.
func ExtractCode(text string) string {
	_, after, found := strings.Cut(text, "<code>")
	if !found {
		return ""
	}
	code, _, _ := strings.Cut(after, "</code>")
	return strings.TrimSpace(code)
}
