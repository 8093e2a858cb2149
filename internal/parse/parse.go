// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package parse converts free-form model responses into validated structured
// records. Model output is supposed to contain one JSON object, but in
// practice arrives wrapped in prose, code fences, or broken syntax; the
// package applies an ordered chain of fallback strategies and returns typed
// failures instead of panicking on malformed input.
package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// FieldKind selects the validation applied to a required field.
type FieldKind string

const (
	// FieldString accepts any JSON string value.
	FieldString FieldKind = "string"

	// FieldScore accepts an integer in [1,5]. Integral JSON numbers
	// (e.g. 4.0) are accepted; anything else is an InvalidFieldValueError.
	FieldScore FieldKind = "score"
)

// Field names one required field and its kind. Optional fields are
// extracted when present but their absence is not a failure; a present
// optional field with an invalid value still fails, since the backend did
// produce it and silently dropping a bad score would skew downstream policy.
type Field struct {
	Name     string
	Kind     FieldKind
	Optional bool
}

// Record holds the validated values for exactly the required fields.
// Extra fields in the source document are ignored.
type Record struct {
	strings map[string]string
	scores  map[string]int
}

// String returns the value of a string field ("" when an optional field
// was absent).
func (r Record) String(name string) string { return r.strings[name] }

// Score returns the value of a score field.
func (r Record) Score(name string) int { return r.scores[name] }

// Has reports whether the field was present in the source document.
func (r Record) Has(name string) bool {
	_, inStrings := r.strings[name]
	_, inScores := r.scores[name]
	return inStrings || inScores
}

// MissingFieldError reports a required field absent after all fallbacks.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field %q", e.Field)
}

// InvalidFieldValueError reports a required field present with a value of
// the wrong type or outside its valid range.
type InvalidFieldValueError struct {
	Field string
	Value any
}

func (e *InvalidFieldValueError) Error() string {
	return fmt.Sprintf("invalid value for field %q: %v", e.Field, e.Value)
}

// strategy attempts to recover a JSON-like object from raw text. It reports
// ok=false when the text yields no object at all; field validation happens
// after the first strategy that succeeds.
type strategy func(raw string, schema []Field) (map[string]any, bool)

// strategies is the ordered fallback chain. Each entry is tried only if the
// previous one failed to produce an object.
var strategies = []strategy{
	parseWhole,
	parseBraceSpan,
	parseFenceStripped,
	extractFields,
}

// Extract produces a Record with the required fields from raw text, or a
// typed failure. The first strategy that recovers an object wins; its
// contents are then validated against the schema. Extract is deterministic:
// the same input always yields the same record or the same failure kind.
func Extract(raw string, schema []Field) (Record, error) {
	var obj map[string]any
	for _, s := range strategies {
		if candidate, ok := s(raw, schema); ok {
			obj = candidate
			break
		}
	}
	if obj == nil {
		// Nothing object-like anywhere in the text: every required field
		// is missing. Name the first one for the caller.
		for _, f := range schema {
			if !f.Optional {
				return Record{}, &MissingFieldError{Field: f.Name}
			}
		}
		return Record{}, &MissingFieldError{Field: ""}
	}
	return validate(obj, schema)
}

// ExtractList produces one object per element of a JSON array found under
// the given key (or a bare top-level array), validated against the schema.
// The Generator's multi-draft responses use this shape.
func ExtractList(raw, key string, schema []Field) ([]Record, error) {
	var doc any
	for _, text := range []string{raw, braceOrBracketSpan(raw), stripFences(raw), braceOrBracketSpan(stripFences(raw))} {
		if text == "" {
			continue
		}
		if d, ok := decodeAny(text); ok {
			doc = d
			break
		}
	}

	var list []any
	switch v := doc.(type) {
	case []any:
		list = v
	case map[string]any:
		inner, ok := v[key].([]any)
		if !ok {
			return nil, &MissingFieldError{Field: key}
		}
		list = inner
	default:
		return nil, &MissingFieldError{Field: key}
	}

	records := make([]Record, 0, len(list))
	for _, el := range list {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		rec, err := validate(obj, schema)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// validate checks the recovered object against the schema and builds the
// Record. Missing fields beat invalid values: MissingFieldError is returned
// for absent fields, InvalidFieldValueError for present-but-wrong ones.
func validate(obj map[string]any, schema []Field) (Record, error) {
	rec := Record{
		strings: make(map[string]string, len(schema)),
		scores:  make(map[string]int, len(schema)),
	}

	for _, f := range schema {
		val, ok := obj[f.Name]
		if !ok || val == nil {
			if f.Optional {
				continue
			}
			return Record{}, &MissingFieldError{Field: f.Name}
		}

		switch f.Kind {
		case FieldString:
			s, ok := val.(string)
			if !ok {
				return Record{}, &InvalidFieldValueError{Field: f.Name, Value: val}
			}
			rec.strings[f.Name] = s

		case FieldScore:
			n, ok := toScore(val)
			if !ok {
				return Record{}, &InvalidFieldValueError{Field: f.Name, Value: val}
			}
			rec.scores[f.Name] = n

		default:
			return Record{}, &InvalidFieldValueError{Field: f.Name, Value: val}
		}
	}
	return rec, nil
}

// toScore converts a recovered value to an integer sub-score in [1,5].
func toScore(val any) (int, bool) {
	var n int
	switch v := val.(type) {
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			// Backends sometimes emit integral floats like 4.0.
			f, ferr := v.Float64()
			if ferr != nil || f != float64(int(f)) {
				return 0, false
			}
			i = int64(f)
		}
		n = int(i)
	case string:
		// The heuristic extractor and some backends return bare digits
		// as strings.
		var i int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &i); err != nil {
			return 0, false
		}
		if fmt.Sprintf("%d", i) != strings.TrimSpace(v) {
			return 0, false
		}
		n = i
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		n = int(v)
	default:
		return 0, false
	}
	if n < 1 || n > 5 {
		return 0, false
	}
	return n, true
}

// decodeAny parses text as a single JSON value with number preservation.
func decodeAny(text string) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// decodeObject parses text as a JSON object.
func decodeObject(text string) (map[string]any, bool) {
	v, ok := decodeAny(text)
	if !ok {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// parseWhole tries the entire text as a JSON object.
func parseWhole(raw string, _ []Field) (map[string]any, bool) {
	return decodeObject(strings.TrimSpace(raw))
}

// parseBraceSpan extracts the substring between the first '{' and the last
// '}' and tries that.
func parseBraceSpan(raw string, _ []Field) (map[string]any, bool) {
	span := braceSpan(raw)
	if span == "" {
		return nil, false
	}
	return decodeObject(span)
}

// parseFenceStripped removes code-fence wrappers and retries the whole-text
// and brace-span parses on the result.
func parseFenceStripped(raw string, schema []Field) (map[string]any, bool) {
	stripped := stripFences(raw)
	if stripped == raw {
		return nil, false
	}
	if obj, ok := parseWhole(stripped, schema); ok {
		return obj, true
	}
	return parseBraceSpan(stripped, schema)
}

// braceSpan returns the substring between the first '{' and the last '}',
// inclusive, or "" when no such span exists.
func braceSpan(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

// braceOrBracketSpan is braceSpan generalized to arrays: whichever of '{'
// or '[' appears first wins.
func braceOrBracketSpan(raw string) string {
	braceStart := strings.Index(raw, "{")
	bracketStart := strings.Index(raw, "[")

	if bracketStart != -1 && (braceStart == -1 || bracketStart < braceStart) {
		end := strings.LastIndex(raw, "]")
		if end > bracketStart {
			return raw[bracketStart : end+1]
		}
		return ""
	}
	return braceSpan(raw)
}

// fencePattern matches a leading or trailing triple-backtick fence line,
// with an optional language tag.
var fencePattern = regexp.MustCompile("(?m)^```[a-zA-Z]*[ \t]*$")

// stripFences removes leading/trailing code-fence marker lines.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	lines := strings.Split(trimmed, "\n")
	if len(lines) > 0 && fencePattern.MatchString(strings.TrimSpace(lines[0])) {
		lines = lines[1:]
	}
	if len(lines) > 0 && fencePattern.MatchString(strings.TrimSpace(lines[len(lines)-1])) {
		lines = lines[:len(lines)-1]
	}
	// Inline fences: ```json ... ``` on shared lines.
	out := strings.Join(lines, "\n")
	out = strings.ReplaceAll(out, "```json", "")
	out = strings.ReplaceAll(out, "```", "")
	return strings.TrimSpace(out)
}

// stringFieldPattern matches "field": "value" with escaped-quote handling.
// The %s is the quoted field name.
const stringFieldPattern = `"%s"\s*:\s*"((?:[^"\\]|\\.)*)"`

// numberFieldPattern matches "field": 4 or "field": 4.5.
const numberFieldPattern = `"%s"\s*:\s*(-?\d+(?:\.\d+)?)`

// extractFields is the last-resort heuristic: search the document for each
// required field's label and pull out the adjacent string or number value,
// assembling a best-effort object even when the text is not valid JSON.
func extractFields(raw string, schema []Field) (map[string]any, bool) {
	obj := make(map[string]any)
	for _, f := range schema {
		name := regexp.QuoteMeta(f.Name)

		re := regexp.MustCompile(fmt.Sprintf(stringFieldPattern, name))
		if m := re.FindStringSubmatch(raw); m != nil {
			obj[f.Name] = unescape(m[1])
			continue
		}

		re = regexp.MustCompile(fmt.Sprintf(numberFieldPattern, name))
		if m := re.FindStringSubmatch(raw); m != nil {
			obj[f.Name] = json.Number(m[1])
		}
	}
	if len(obj) == 0 {
		return nil, false
	}
	return obj, true
}

// unescape resolves JSON string escapes recovered by the heuristic extractor.
// Invalid escapes fall back to the raw text.
func unescape(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

// thinkPattern matches <think>...</think> reasoning blocks some models emit
// before their JSON payload.
var thinkPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThink removes <think> reasoning blocks from a response so they cannot
// shadow the JSON payload during extraction.
func StripThink(raw string) string {
	return strings.TrimSpace(thinkPattern.ReplaceAllString(raw, ""))
}
