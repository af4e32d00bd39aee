package crdt

import "fmt"

// snapshotTypeID extracts and validates the required "type"/"id" fields
// every snapshot must carry.
func snapshotTypeID(snap Snapshot) (Type, string, error) {
	rawType, ok := snap["type"]
	if !ok {
		return "", "", &StateTypeMismatchError{Reason: "snapshot missing \"type\""}
	}
	typeStr, ok := rawType.(string)
	if !ok {
		return "", "", &StateTypeMismatchError{Reason: "snapshot \"type\" is not a string"}
	}

	rawID, ok := snap["id"]
	if !ok {
		return "", "", &StateTypeMismatchError{Reason: "snapshot missing \"id\""}
	}
	id, ok := rawID.(string)
	if !ok {
		return "", "", &StateTypeMismatchError{Reason: "snapshot \"id\" is not a string"}
	}

	return Type(typeStr), id, nil
}

// checkTypeID verifies an incoming snapshot names the expected type and id,
// returning StateTypeMismatchError otherwise.
func checkTypeID(snap Snapshot, expected Type, expectedID string) error {
	typ, id, err := snapshotTypeID(snap)
	if err != nil {
		return err
	}
	if typ != expected || id != expectedID {
		return &StateTypeMismatchError{
			ExpectedType: expected,
			ExpectedID:   expectedID,
			GotType:      typ,
			GotID:        id,
		}
	}
	return nil
}

// toInt64 coerces a JSON-decoded number (float64, int, int64) to int64.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// toInt coerces a JSON-decoded number (float64, int, int64) to int.
func toInt(v any) (int, error) {
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// toString coerces a value expected to already be a string.
func toString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %T", v)
	}
	return s, nil
}

// toStringSlice coerces a []any / []string into []string.
func toStringSlice(v any) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected a string element, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of strings, got %T", v)
	}
}

// toIntMap coerces a map[string]any (or map[string]int64) into
// map[string]int64, rejecting non-numeric values.
func toIntMap(v any) (map[string]int64, error) {
	out := map[string]int64{}
	switch vv := v.(type) {
	case map[string]int64:
		for k, n := range vv {
			out[k] = n
		}
		return out, nil
	case map[string]any:
		for k, raw := range vv {
			n, err := toInt64(raw)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a string-keyed map of numbers, got %T", v)
	}
}

// cloneIntMap returns a shallow copy of an int64 map.
func cloneIntMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// intMapToAny converts an int64 map to the any-valued map snapshots use.
func intMapToAny(m map[string]int64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// dominates reports whether clock a dominates clock b: a[r] >= b[r] for
// every key in either clock, and strictly greater for at least one key.
func dominates(a, b map[string]int64) bool {
	strictlyGreater := false
	keys := map[string]struct{}{}
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	for k := range keys {
		if a[k] < b[k] {
			return false
		}
		if a[k] > b[k] {
			strictlyGreater = true
		}
	}
	return strictlyGreater
}

// outranks implements the LWW tie-break used throughout (§4.6, §4.8):
// (ts1, r1) outranks (ts2, r2) iff ts1 > ts2, or ts1 == ts2 and r1 > r2
// lexicographically.
func outranks(ts1 int64, r1 string, ts2 int64, r2 string) bool {
	if ts1 != ts2 {
		return ts1 > ts2
	}
	return r1 > r2
}
