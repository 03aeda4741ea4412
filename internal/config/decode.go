package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decode strictly decodes a JSON or YAML (by extension) config and overlays
// secrets from env. YAML goes through the same JSON decoder so unknown keys
// are rejected the same way in both formats.
func decode(path string, b []byte, env lookupEnv) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		jb, err := yamlAsJSON(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		b = jb
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	applyEnv(&cfg, env)
	return &cfg, nil
}

func yamlAsJSON(b []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	root, err := jsonValue(doc)
	if err != nil {
		return nil, err
	}
	if _, ok := root.(map[string]any); !ok {
		return nil, errors.New("yaml: top level must be a mapping")
	}
	return json.Marshal(root)
}

// jsonValue rewrites YAML mappings with non-string keys (e.g. `1: x`) into
// string-keyed maps that encoding/json accepts.
func jsonValue(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			jv, err := jsonValue(e)
			if err != nil {
				return nil, err
			}
			x[k] = jv
		}
		return x, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			jv, err := jsonValue(e)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = jv
		}
		return out, nil
	case []any:
		for i, e := range x {
			jv, err := jsonValue(e)
			if err != nil {
				return nil, err
			}
			x[i] = jv
		}
		return x, nil
	default:
		return v, nil
	}
}
