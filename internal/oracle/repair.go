package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
)

var (
	thinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)
	codeFence  = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
)

// RepairJSON extracts the first JSON object or array from a model reply.
// It strips <think> blocks and code fences, takes the first balanced
// fragment and removes trailing commas. A reply with no recoverable
// fragment is ERR_203_MALFORMED_UPSTREAM.
func RepairJSON(upstream, raw string) ([]byte, error) {
	content := thinkBlock.ReplaceAllString(raw, "")
	if m := codeFence.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	content = strings.TrimSpace(content)

	if content == "" {
		return nil, nerrors.MalformedUpstream(upstream, "empty response", nil)
	}
	if json.Valid([]byte(content)) {
		return []byte(content), nil
	}

	fragment, ok := firstBalanced(content)
	if !ok {
		return nil, nerrors.MalformedUpstream(upstream, "no complete JSON value in response", nil).
			WithDetail("response", preview(raw))
	}

	fixed := stripTrailingCommas(fragment)
	if !json.Valid([]byte(fixed)) {
		return nil, nerrors.MalformedUpstream(upstream, "unrepairable JSON in response", nil).
			WithDetail("response", preview(raw))
	}
	return []byte(fixed), nil
}

// Decode repairs raw and unmarshals it into v.
func Decode(upstream, raw string, v any) error {
	data, err := RepairJSON(upstream, raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nerrors.MalformedUpstream(upstream, fmt.Sprintf("unexpected JSON shape: %v", err), err)
	}
	return nil
}

// firstBalanced returns the first {...} or [...] span whose brackets balance,
// ignoring brackets inside string literals.
func firstBalanced(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	for start >= 0 {
		if end, ok := matchClose(s, start); ok {
			return s[start : end+1], true
		}
		next := strings.IndexAny(s[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchClose(s string, start int) (int, bool) {
	var stack []byte
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// stripTrailingCommas removes commas that directly precede } or ], outside strings.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.ContainsRune(" \t\r\n", rune(s[j])) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func preview(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
