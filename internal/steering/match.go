package steering

import (
	"strconv"
	"strings"
)

// fieldValue resolves a dotted field path against the request. The virtual
// field "profile" compares against profileId rather than a request field.
// Missing fields return (nil, false).
func fieldValue(req Request, profileID, path string) (any, bool) {
	if path == "profile" {
		return profileID, true
	}
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "prompt":
		return req.Prompt, true
	case "model":
		return req.RequestedModel, true
	case "userId":
		return req.UserID, true
	case "teamId":
		return req.TeamID, true
	case "projectId":
		return req.ProjectID, true
	case "systemSource":
		return req.SystemSource, true
	case "costPreference":
		return string(req.CostPref), true
	case "maxTokens":
		return req.MaxTokens, true
	case "context":
		return traverseContext(req.Context, parts[1:])
	default:
		return nil, false
	}
}

func traverseContext(ctx map[string]any, rest []string) (any, bool) {
	if ctx == nil || len(rest) == 0 {
		return nil, false
	}
	cur, ok := ctx[rest[0]]
	if !ok {
		return nil, false
	}
	for _, key := range rest[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// evalCondition applies one condition's operator to the resolved field
// value. A missing field is `undefined` and every operator except
// `exists` with value false evaluates to false against it.
func evalCondition(req Request, profileID string, c Condition) bool {
	val, found := fieldValue(req, profileID, c.Field)

	switch c.Operator {
	case "exists":
		want, _ := c.Value.(bool)
		if c.Value == nil {
			want = true
		}
		return found == want
	}

	if !found {
		return false
	}

	switch c.Operator {
	case "equals":
		return toString(val) == toString(c.Value)
	case "contains":
		return strings.Contains(toString(val), toString(c.Value))
	case "length_less_than":
		n, ok := toLength(val)
		want, wok := toFloat(c.Value)
		return ok && wok && float64(n) < want
	case "length_greater_than":
		n, ok := toLength(val)
		want, wok := toFloat(c.Value)
		return ok && wok && float64(n) > want
	default:
		return false
	}
}

func matches(req Request, profileID string, conditions []Condition) bool {
	for _, c := range conditions {
		if !evalCondition(req, profileID, c) {
			return false
		}
	}
	return true
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return strings.TrimSpace(strconv.FormatFloat(toFloatOrZero(v), 'f', -1, 64))
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toFloatOrZero(v any) float64 {
	f, _ := toFloat(v)
	return f
}

// toLength returns a length for strings and []Message, and takes an int or
// float64 (truncated) as the length itself; other types don't support
// length_less_than/length_greater_than and report ok=false.
func toLength(v any) (int, bool) {
	switch t := v.(type) {
	case string:
		return len(t), true
	case []Message:
		return len(t), true
	case int:
		return t, true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}
