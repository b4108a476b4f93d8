// Package jsonutil reads loosely typed values out of the extra_kwargs JSON
// objects found in column-mapping files. Mapping files are written by hand, so
// numbers frequently arrive quoted and booleans as strings.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Object is a decoded JSON object whose values are kept raw until a caller
// asks for them with a specific type.
type Object map[string]json.RawMessage

// ParseObject decodes text as a JSON object. Blank text yields an empty Object.
// Anything other than an object (array, scalar, malformed text) is an error.
func ParseObject(text string) (Object, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Object{}, nil
	}
	if !strings.HasPrefix(text, "{") {
		return nil, fmt.Errorf("expected a JSON object, got %q", TruncateForError(text))
	}

	var obj Object
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	if obj == nil {
		obj = Object{}
	}
	return obj, nil
}

// Has reports whether key is present with a non-null value.
func (o Object) Has(key string) bool {
	raw, ok := o[key]
	return ok && !isNull(raw)
}

// String returns the value of key as a string ("" when absent).
func (o Object) String(key string) string {
	return FlexibleStringValue(o[key])
}

// Bool returns the value of key as a boolean. ok is false when the key is absent.
func (o Object) Bool(key string) (value bool, ok bool, err error) {
	raw, present := o[key]
	if !present || isNull(raw) {
		return false, false, nil
	}
	v, err := FlexibleBoolValue(raw)
	if err != nil {
		return false, true, fmt.Errorf("%s: %w", key, err)
	}
	return v, true, nil
}

// Int returns the value of key as an int. ok is false when the key is absent.
func (o Object) Int(key string) (value int, ok bool, err error) {
	raw, present := o[key]
	if !present || isNull(raw) {
		return 0, false, nil
	}
	v, err := FlexibleIntValue(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return v, true, nil
}

// Keys returns the keys present in the object.
func (o Object) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	return keys
}

// FlexibleStringValue converts a json.RawMessage to a string, accepting numbers
// and booleans as well as strings. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	// Decoding through json.Number keeps large integers and decimals exactly as written.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err == nil {
		switch t := v.(type) {
		case json.Number:
			return t.String()
		case bool:
			return strconv.FormatBool(t)
		}
	}

	return string(raw)
}

// FlexibleBoolValue accepts true/false, "true"/"false", "yes"/"no" and 1/0.
func FlexibleBoolValue(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}

	switch strings.ToLower(strings.TrimSpace(FlexibleStringValue(raw))) {
	case "true", "yes", "y", "1", "t":
		return true, nil
	case "false", "no", "n", "0", "f":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %s", TruncateForError(string(raw)))
}

// FlexibleIntValue accepts a JSON integer or a string holding one ("28").
// Whole-valued floats such as 28.0 are accepted.
func FlexibleIntValue(raw json.RawMessage) (int, error) {
	s := strings.TrimSpace(FlexibleStringValue(raw))
	if s == "" {
		return 0, fmt.Errorf("empty integer value")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("not an integer: %s", TruncateForError(s))
	}
	return int(f), nil
}

// TruncateForError shortens s to at most 60 runes for inclusion in an error message.
func TruncateForError(s string) string {
	const limit = 60
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
