package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// tokenPattern matches ${stepN.output.field} with an optional dotted path
// into nested output fields.
var tokenPattern = regexp.MustCompile(`\$\{step(\d+)\.output\.([A-Za-z0-9_.]+)\}`)

// resolveParams replaces substitution tokens in the step's parameters with
// values from prior step outputs. current is the index of the step being
// resolved; references to it or any later step are unresolved by
// definition.
func resolveParams(params map[string]any, current int, outputs []map[string]any) (map[string]any, error) {
	if len(params) == 0 {
		return map[string]any{}, nil
	}
	resolved := make(map[string]any, len(params))
	for k, v := range params {
		rv, err := resolveValue(v, current, outputs)
		if err != nil {
			return nil, err
		}
		resolved[k] = rv
	}
	return resolved, nil
}

func resolveValue(v any, current int, outputs []map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, current, outputs)
	case map[string]any:
		return resolveParams(val, current, outputs)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rv, err := resolveValue(item, current, outputs)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString substitutes tokens in a string parameter. A parameter that
// is exactly one token keeps the referenced value's type; tokens embedded
// in longer strings are rendered as text.
func resolveString(s string, current int, outputs []map[string]any) (any, error) {
	if m := tokenPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		return lookupToken(m, current, outputs)
	}

	var tokenErr error
	replaced := tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		if tokenErr != nil {
			return tok
		}
		m := tokenPattern.FindStringSubmatch(tok)
		val, err := lookupToken(m, current, outputs)
		if err != nil {
			tokenErr = err
			return tok
		}
		return renderScalar(val)
	})
	if tokenErr != nil {
		return nil, tokenErr
	}
	return replaced, nil
}

// lookupToken resolves one matched token against prior outputs.
func lookupToken(m []string, current int, outputs []map[string]any) (any, error) {
	token := m[0]
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, &UnresolvedReferenceError{Token: token, Reason: "malformed step index"}
	}
	if idx >= current {
		return nil, &UnresolvedReferenceError{
			Token:  token,
			Reason: fmt.Sprintf("step %d has not executed yet", idx),
		}
	}
	if idx >= len(outputs) || outputs[idx] == nil {
		return nil, &UnresolvedReferenceError{
			Token:  token,
			Reason: fmt.Sprintf("no output recorded for step %d", idx),
		}
	}

	var cur any = outputs[idx]
	for _, field := range strings.Split(m[2], ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, &UnresolvedReferenceError{
				Token:  token,
				Reason: fmt.Sprintf("field %q is not an object", field),
			}
		}
		cur, ok = obj[field]
		if !ok {
			return nil, &UnresolvedReferenceError{
				Token:  token,
				Reason: fmt.Sprintf("output of step %d has no field %q", idx, field),
			}
		}
	}
	return cur, nil
}

// renderScalar formats a resolved value for embedding inside a longer
// string. Non-scalar values become compact JSON.
func renderScalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return "null"
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
