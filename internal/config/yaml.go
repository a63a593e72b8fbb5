package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// isYAMLName reports whether a config file name selects the YAML decoder.
func isYAMLName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// documentJSON returns the taskbell config document as JSON. YAML input is
// re-encoded so both formats go through the same strict decoder and unknown
// keys like "sever:" fail the same way.
func documentJSON(name string, data []byte) ([]byte, error) {
	if !isYAMLName(name) {
		return data, nil
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: decode yaml: %w", filepath.Base(name), err)
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("%s: re-encode yaml: %w", filepath.Base(name), err)
	}
	return out, nil
}

// stringKeys rewrites nested maps to map[string]any. YAML allows keys such
// as 5 or true that encoding/json cannot marshal.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case map[string]any:
		for k, e := range t {
			t[k] = stringKeys(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = stringKeys(e)
		}
		return t
	}
	return v
}
