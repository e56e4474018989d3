package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
)

// Decoded is the result of a tolerant decode: either Value is usable or Err
// describes why the raw text could not be parsed.
type Decoded[T any] struct {
	Value T
	Err   *ParseError
}

// Ok reports whether decoding succeeded.
func (d Decoded[T]) Ok() bool { return d.Err == nil }

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// Decode extracts the first JSON value from raw Drafter output and unmarshals
// it into T. It strips code fences and tolerates prose before and after the
// value. All string scraping of model output lives here.
func Decode[T any](raw string) Decoded[T] {
	var zero T
	target := fmt.Sprintf("%T", zero)
	candidates := make([]string, 0, 2)
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, raw)

	lastReason := "no JSON value found"
	for _, c := range candidates {
		for rest := c; rest != ""; {
			start, end := scanJSON(rest)
			if start < 0 {
				break
			}
			var v T
			err := sonic.UnmarshalString(rest[start:end], &v)
			if err == nil {
				return Decoded[T]{Value: v}
			}
			lastReason = err.Error()
			rest = rest[start+1:]
		}
	}
	return Decoded[T]{Err: &ParseError{Target: target, Raw: raw, Reason: lastReason}}
}

// scanJSON locates the first balanced object or array in s, skipping brackets
// inside string literals. It returns -1, -1 when there is none.
func scanJSON(s string) (int, int) {
	start := -1
	var openCh, closeCh byte
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if start == -1 {
			if ch == '{' || ch == '[' {
				start = i
				openCh, closeCh = '{', '}'
				if ch == '[' {
					openCh, closeCh = '[', ']'
				}
				depth = 1
			}
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	if start >= 0 {
		// unbalanced: retry from the next opening bracket
		if s2, e2 := scanJSON(s[start+1:]); s2 >= 0 {
			return start + 1 + s2, start + 1 + e2
		}
	}
	return -1, -1
}

// stringList accepts either a JSON array of strings or a single string.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var many []string
	if err := sonic.Unmarshal(b, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := sonic.Unmarshal(b, &one); err != nil {
		return err
	}
	if strings.TrimSpace(one) != "" {
		*l = []string{one}
	}
	return nil
}
