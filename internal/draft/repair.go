package draft

import (
	"encoding/json"
	"strings"
)

// RepairStringArray parses LLM output that should be a JSON array of
// strings, applying progressively more aggressive repair when it is not
// valid JSON: extract the bracketed substring, escape stray inner quotes,
// then merge adjacent array fragments. Returns ok=false only when every
// strategy fails.
func RepairStringArray(raw string) ([]string, bool) {
	raw = strings.TrimSpace(raw)

	if out, ok := tryParseArray(raw); ok {
		return out, true
	}

	// strategy 1: the array is buried in prose or markdown fences
	if sub, ok := bracketedSubstring(raw); ok {
		if out, ok := tryParseArray(sub); ok {
			return out, true
		}
		// strategy 2: stray unescaped quotes inside elements
		if out, ok := tryParseArray(escapeInnerQuotes(sub)); ok {
			return out, true
		}
	}

	// strategy 3: the model emitted several adjacent arrays
	if out, ok := mergeFragments(raw); ok {
		return out, true
	}

	return nil, false
}

func tryParseArray(s string) ([]string, bool) {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, false
	}
	return out, true
}

func bracketedSubstring(s string) (string, bool) {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// scanner states for escapeInnerQuotes
type quoteState int

const (
	outsideString quoteState = iota
	insideString
	escapedChar
)

// escapeInnerQuotes rewrites a near-JSON array whose string elements contain
// unescaped double quotes. A quote inside a string only terminates it when
// the next non-space character is a comma or closing bracket; any other
// quote is literal content and gets escaped.
func escapeInnerQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)

	state := outsideString
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch state {
		case outsideString:
			if c == '"' {
				state = insideString
			}
			b.WriteByte(c)
		case insideString:
			switch c {
			case '\\':
				state = escapedChar
				b.WriteByte(c)
			case '"':
				if terminatesElement(s, i+1) {
					state = outsideString
					b.WriteByte(c)
				} else {
					b.WriteString(`\"`)
				}
			default:
				b.WriteByte(c)
			}
		case escapedChar:
			state = insideString
			b.WriteByte(c)
		}
	}
	return b.String()
}

func terminatesElement(s string, from int) bool {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case ',', ']':
			return true
		default:
			return false
		}
	}
	// a quote at the very end closes the element
	return true
}

// mergeFragments concatenates every parseable top-level [...] fragment.
func mergeFragments(s string) ([]string, bool) {
	var merged []string
	found := false
	for i := 0; i < len(s); {
		start := strings.IndexByte(s[i:], '[')
		if start < 0 {
			break
		}
		start += i
		end := strings.IndexByte(s[start:], ']')
		if end < 0 {
			break
		}
		end += start
		frag := s[start : end+1]
		if out, ok := tryParseArray(frag); ok {
			merged = append(merged, out...)
			found = true
		} else if out, ok := tryParseArray(escapeInnerQuotes(frag)); ok {
			merged = append(merged, out...)
			found = true
		}
		i = end + 1
	}
	return merged, found
}
