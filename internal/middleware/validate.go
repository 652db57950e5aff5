package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/dcravey/gantry/internal/apierror"
	"github.com/dcravey/gantry/internal/schema"
)

// ValidationPolicy configures the schema validation layer. Each target
// is validated only when its schema is set. Params field names are
// matched against route wildcards via Request.PathValue.
type ValidationPolicy struct {
	Body        *schema.Schema
	Query       *schema.Schema
	Params      *schema.Schema
	SkipMethods []string // OPTIONS is always skipped
}

// Validate returns middleware that checks the request body, query
// string, and path parameters against their schemas. All three targets
// are validated even when an earlier one fails, so a single 400 carries
// every field error. On success the typed values are attached to the
// request context; downstream layers only ever see validated data for
// targets that had a schema.
func Validate(policy ValidationPolicy) Middleware {
	skip := map[string]struct{}{http.MethodOptions: {}}
	for _, m := range policy.SkipMethods {
		skip[strings.ToUpper(m)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.Method]; ok {
				next.ServeHTTP(w, r)
				return
			}

			v := &Validated{}
			var fieldErrs []schema.FieldError

			if policy.Body != nil && methodHasBody(r.Method) {
				typed, errs := validateBody(r, policy.Body)
				v.Body = typed
				fieldErrs = append(fieldErrs, prefix("body", errs)...)
			}

			if policy.Query != nil {
				values := make(map[string]string)
				for key, vals := range r.URL.Query() {
					if len(vals) > 0 {
						values[key] = vals[0]
					}
				}
				typed, errs := policy.Query.ValidateStrings(values)
				v.Query = typed
				fieldErrs = append(fieldErrs, prefix("query", errs)...)
			}

			if policy.Params != nil {
				values := make(map[string]string)
				for name := range policy.Params.Fields {
					if pv := r.PathValue(name); pv != "" {
						values[name] = pv
					}
				}
				typed, errs := policy.Params.ValidateStrings(values)
				v.Params = typed
				fieldErrs = append(fieldErrs, prefix("params", errs)...)
			}

			if len(fieldErrs) > 0 {
				ValidationFailures.Inc()
				apierror.Write(w, apierror.Validation("Validation failed", fieldErrs))
				return
			}

			next.ServeHTTP(w, r.WithContext(withValidated(r.Context(), v)))
		})
	}
}

// validateBody decodes the JSON body (read exactly once) and validates
// it. A body that fails to parse is reported as a single field error on
// "body", distinct from schema mismatches.
func validateBody(r *http.Request, s *schema.Schema) (map[string]any, []schema.FieldError) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, []schema.FieldError{{Field: "", Errors: []string{"could not be read"}}}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, []schema.FieldError{{Field: "", Errors: []string{"must be a valid JSON object"}}}
	}

	return s.Validate(decoded)
}

// prefix namespaces field errors by validation target, so a failure on
// the body's "name" is reported as "body.name". Target-level errors
// (like an unparseable body) keep the bare target name.
func prefix(target string, errs []schema.FieldError) []schema.FieldError {
	out := make([]schema.FieldError, 0, len(errs))
	for _, fe := range errs {
		field := target
		if fe.Field != "" {
			field = target + "." + fe.Field
		}
		out = append(out, schema.FieldError{Field: field, Errors: fe.Errors})
	}
	return out
}

func methodHasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}
