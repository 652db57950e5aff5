// Package schema provides small declarative object schemas used by the
// validation layer to check request bodies, query strings, and path
// parameters.
//
// A Schema describes the fields of one validation target. Validation
// never stops at the first failure: every field is checked and every
// failure is reported, so clients see the complete picture in a single
// round trip.
package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Type is the expected primitive type of a field.
type Type string

const (
	String Type = "string"
	Int    Type = "int"
	Float  Type = "float"
	Bool   Type = "bool"
)

// Field declares the rules for one named field. Zero values mean
// "no constraint" except Type, which defaults to String.
type Field struct {
	Type     Type
	Required bool
	NonEmpty bool // strings: reject ""
	MinLen   int  // strings: minimum length, 0 = unbounded
	MaxLen   int  // strings: maximum length, 0 = unbounded
	Min      *float64
	Max      *float64
	Pattern  *regexp.Regexp
	Enum     []string
}

// Schema is a set of named field rules for one validation target.
type Schema struct {
	Fields map[string]Field
}

// Object builds a Schema from field rules.
func Object(fields map[string]Field) *Schema {
	return &Schema{Fields: fields}
}

// FieldError collects all rule failures for a single field.
type FieldError struct {
	Field  string   `json:"field"`
	Errors []string `json:"errors"`
}

// Validate checks decoded JSON values (the body target) against the
// schema. It returns the typed values for fields that passed and the
// accumulated failures for fields that did not.
func (s *Schema) Validate(values map[string]any) (map[string]any, []FieldError) {
	typed := make(map[string]any, len(s.Fields))
	var fieldErrs []FieldError

	for _, name := range s.fieldNames() {
		f := s.Fields[name]
		raw, present := values[name]
		if !present || raw == nil {
			if f.Required {
				fieldErrs = append(fieldErrs, FieldError{Field: name, Errors: []string{"is required"}})
			}
			continue
		}

		val, errs := checkValue(f, raw)
		if len(errs) > 0 {
			fieldErrs = append(fieldErrs, FieldError{Field: name, Errors: errs})
			continue
		}
		typed[name] = val
	}

	return typed, fieldErrs
}

// ValidateStrings checks string-sourced values (query string, path
// parameters) against the schema, coercing each value to the field's
// declared type before applying the remaining rules.
func (s *Schema) ValidateStrings(values map[string]string) (map[string]any, []FieldError) {
	typed := make(map[string]any, len(s.Fields))
	var fieldErrs []FieldError

	for _, name := range s.fieldNames() {
		f := s.Fields[name]
		raw, present := values[name]
		if !present {
			if f.Required {
				fieldErrs = append(fieldErrs, FieldError{Field: name, Errors: []string{"is required"}})
			}
			continue
		}

		coerced, err := coerce(f.Type, raw)
		if err != nil {
			fieldErrs = append(fieldErrs, FieldError{Field: name, Errors: []string{err.Error()}})
			continue
		}

		val, errs := checkValue(f, coerced)
		if len(errs) > 0 {
			fieldErrs = append(fieldErrs, FieldError{Field: name, Errors: errs})
			continue
		}
		typed[name] = val
	}

	return typed, fieldErrs
}

// fieldNames returns the schema's field names in sorted order so error
// lists are deterministic.
func (s *Schema) fieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// coerce parses a string-sourced value into the field's declared type.
func coerce(t Type, raw string) (any, error) {
	switch t {
	case Int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("must be an integer")
		}
		return n, nil
	case Float:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("must be a number")
		}
		return n, nil
	case Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("must be a boolean")
		}
		return b, nil
	default:
		return raw, nil
	}
}

// checkValue applies the field rules to an already-decoded value and
// returns the typed value plus every rule failure.
func checkValue(f Field, raw any) (any, []string) {
	var errs []string

	switch typeOrDefault(f.Type) {
	case String:
		s, ok := raw.(string)
		if !ok {
			return nil, []string{"must be a string"}
		}
		if f.NonEmpty && s == "" {
			errs = append(errs, "must not be empty")
		}
		if f.MinLen > 0 && len(s) < f.MinLen {
			errs = append(errs, fmt.Sprintf("must be at least %d characters", f.MinLen))
		}
		if f.MaxLen > 0 && len(s) > f.MaxLen {
			errs = append(errs, fmt.Sprintf("must be at most %d characters", f.MaxLen))
		}
		if f.Pattern != nil && !f.Pattern.MatchString(s) {
			errs = append(errs, fmt.Sprintf("must match pattern %s", f.Pattern.String()))
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			errs = append(errs, fmt.Sprintf("must be one of: %s", strings.Join(f.Enum, ", ")))
		}
		return s, errs

	case Int:
		n, ok := toInt(raw)
		if !ok {
			return nil, []string{"must be an integer"}
		}
		errs = append(errs, checkBounds(f, float64(n))...)
		return n, errs

	case Float:
		n, ok := toFloat(raw)
		if !ok {
			return nil, []string{"must be a number"}
		}
		errs = append(errs, checkBounds(f, n)...)
		return n, errs

	case Bool:
		b, ok := raw.(bool)
		if !ok {
			return nil, []string{"must be a boolean"}
		}
		return b, nil
	}

	return raw, nil
}

func typeOrDefault(t Type) Type {
	if t == "" {
		return String
	}
	return t
}

func checkBounds(f Field, n float64) []string {
	var errs []string
	if f.Min != nil && n < *f.Min {
		errs = append(errs, fmt.Sprintf("must be at least %v", *f.Min))
	}
	if f.Max != nil && n > *f.Max {
		errs = append(errs, fmt.Sprintf("must be at most %v", *f.Max))
	}
	return errs
}

// toInt accepts native ints and JSON numbers that are whole.
func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// Ptr returns a pointer to v, for inline Min/Max bounds.
func Ptr(v float64) *float64 {
	return &v
}
