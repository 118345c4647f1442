// Package normalize turns raw completion text into structured results.
//
// Model output nominally follows a JSON contract but is untrusted free text.
// Every parse runs the same cascade, first match wins:
//
//  1. the whole string as strict JSON
//  2. the interior of a ```json fenced block
//  3. the span from the first '{' to the last '}'
//
// Discussion output that matches none of these degrades to a plain-text
// response instead of failing.
package normalize

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Method records which strategy produced a result.
type Method string

const (
	MethodStrict   Method = "strict"
	MethodFenced   Method = "fenced"
	MethodBrace    Method = "brace"
	MethodFallback Method = "fallback"
)

// ErrNoJSON is returned by Decode when no strategy yields a JSON object.
var ErrNoJSON = errors.New("no JSON object in completion output")

var fencedJSON = regexp.MustCompile("(?is)```json[ \\t]*\\r?\\n?(.*?)```")

type candidate struct {
	method Method
	text   string
}

func candidates(raw string) []candidate {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	out := []candidate{{method: MethodStrict, text: trimmed}}

	if m := fencedJSON.FindStringSubmatch(trimmed); m != nil {
		out = append(out, candidate{method: MethodFenced, text: strings.TrimSpace(m[1])})
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		out = append(out, candidate{method: MethodBrace, text: trimmed[start : end+1]})
	}
	return out
}

// Decode runs the cascade against raw and returns the first candidate that
// parses as a JSON object into T.
func Decode[T any](raw string) (T, Method, error) {
	return decodeWhere[T](raw, nil)
}

func decodeWhere[T any](raw string, accept func(T) bool) (T, Method, error) {
	for _, c := range candidates(raw) {
		var v T
		if err := unmarshalObject(c.text, &v); err != nil {
			continue
		}
		if accept != nil && !accept(v) {
			continue
		}
		return v, c.method, nil
	}
	var zero T
	return zero, MethodFallback, ErrNoJSON
}

func unmarshalObject(s string, v any) error {
	if !strings.HasPrefix(s, "{") {
		return errors.New("not a JSON object")
	}
	return json.Unmarshal([]byte(s), v)
}
