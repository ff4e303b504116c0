package gemini

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNoJSON = errors.New("no JSON found in the model response")

	fenceRe = regexp.MustCompile("(?s)```([A-Za-z]*)[ \t]*\n?(.*?)```")
)

// extractJSON pulls the JSON document out of a model response: the first ```json block,
// else the first fenced block, else the outermost [...] or {...} span.
func extractJSON(text string) ([]byte, error) {
	var candidates []string
	var other []string
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		if strings.EqualFold(m[1], "json") {
			candidates = append(candidates, m[2])
		} else {
			other = append(other, m[2])
		}
	}
	candidates = append(candidates, other...)
	candidates = append(candidates, outermostSpans(text)...)

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c != "" && json.Valid([]byte(c)) {
			return []byte(c), nil
		}
	}
	return nil, ErrNoJSON
}

// outermostSpans returns the widest [...] and {...} spans of text, the one opening first coming first.
func outermostSpans(text string) []string {
	var spans []string
	first := -1
	for _, pair := range []string{"[]", "{}"} {
		start := strings.IndexByte(text, pair[0])
		end := strings.LastIndexByte(text, pair[1])
		if start < 0 || end < start {
			continue
		}
		span := text[start : end+1]
		if first >= 0 && start < first {
			spans = append([]string{span}, spans...)
		} else {
			spans = append(spans, span)
		}
		first = start
	}
	return spans
}
