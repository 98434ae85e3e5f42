package sysconfig

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"media-pipeline/internal/logging"
)

// Overrides persist as dotted keys ("ffmpeg.crf") mapped to JSON encoded
// leaf values. Only keys that differ from the defaults are stored.

func flatten(cfg SystemConfig) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	out := make(map[string]any)
	flattenInto(out, "", tree)
	return out, nil
}

func flattenInto(out map[string]any, prefix string, node map[string]any) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flattenInto(out, key, child)
			continue
		}
		out[key] = v
	}
}

// diffOverrides returns the JSON encoded values of cfg that differ from defaults.
func diffOverrides(cfg, defaults SystemConfig) (map[string]string, error) {
	flat, err := flatten(cfg)
	if err != nil {
		return nil, err
	}
	base, err := flatten(defaults)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string)
	for k, v := range flat {
		if def, ok := base[k]; ok && reflect.DeepEqual(def, v) {
			continue
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		out[k] = string(encoded)
	}
	return out, nil
}

// applyOverrides overlays stored overrides on defaults. Keys that do not
// exist in the current schema are logged and dropped.
func applyOverrides(defaults SystemConfig, overrides map[string]string) (SystemConfig, error) {
	known, err := flatten(defaults)
	if err != nil {
		return SystemConfig{}, err
	}

	tree := make(map[string]any)
	for key, raw := range overrides {
		_, isLeaf := known[key]
		if !isLeaf && !isJobKey(key) {
			logging.Warn("Ignoring unknown system config key %q", key)
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			logging.Warn("Ignoring unreadable system config value %s=%q: %v", key, raw, err)
			continue
		}
		setPath(tree, strings.Split(key, "."), v)
	}
	return overlay(defaults, tree)
}

// overlay decodes tree on top of a copy of base. Missing fields keep the
// base value; map entries are merged.
func overlay(base SystemConfig, tree map[string]any) (SystemConfig, error) {
	cfg := base.Clone()
	if len(tree) == 0 {
		return cfg, nil
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return SystemConfig{}, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return SystemConfig{}, fmt.Errorf("decode system config: %w", err)
	}
	return cfg, nil
}

// job.<queue>.concurrency keys are valid for any queue, including ones
// missing from the defaults map.
func isJobKey(key string) bool {
	parts := strings.Split(key, ".")
	return len(parts) == 3 && parts[0] == "job" && parts[2] == "concurrency"
}

func setPath(tree map[string]any, path []string, v any) {
	for _, p := range path[:len(path)-1] {
		child, ok := tree[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			tree[p] = child
		}
		tree = child
	}
	tree[path[len(path)-1]] = v
}
