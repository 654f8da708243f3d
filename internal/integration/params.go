package integration

import "fmt"

// Param helpers for factory parameter maps. Parameters arrive as
// map[string]any decoded from YAML, so numeric values may be int or
// float64 depending on how they were written.

// StringParam returns a string parameter or its default.
func StringParam(params map[string]any, key, def string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string, got %T: %w", key, raw, ErrConfiguration)
	}
	return s, nil
}

// RequiredStringParam returns a string parameter, failing if absent
// or empty.
func RequiredStringParam(params map[string]any, key string) (string, error) {
	s, err := StringParam(params, key, "")
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("parameter %q is required: %w", key, ErrConfiguration)
	}
	return s, nil
}

// IntParam returns an integer parameter or its default.
func IntParam(params map[string]any, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("parameter %q must be an integer, got %T: %w", key, raw, ErrConfiguration)
	}
}

// StringMapParam returns a map parameter of string keys to string
// values, or an empty map when absent.
func StringMapParam(params map[string]any, key string) (map[string]string, error) {
	raw, ok := params[key]
	if !ok {
		return map[string]string{}, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q must be a mapping, got %T: %w", key, raw, ErrConfiguration)
	}

	out := make(map[string]string, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("parameter %q[%q] must be a string, got %T: %w", key, k, v, ErrConfiguration)
		}
		out[k] = s
	}
	return out, nil
}

// StringListParam returns a list parameter of strings, or an empty
// list when absent.
func StringListParam(params map[string]any, key string) ([]string, error) {
	raw, ok := params[key]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q must be a list, got %T: %w", key, raw, ErrConfiguration)
	}

	out := make([]string, 0, len(list))
	for i, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("parameter %q[%d] must be a string, got %T: %w", key, i, v, ErrConfiguration)
		}
		out = append(out, s)
	}
	return out, nil
}
