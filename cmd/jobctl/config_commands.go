package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Read and change the system config",
	}
	configCmd.AddCommand(newConfigGetCommand(ctx))
	configCmd.AddCommand(newConfigSetCommand(ctx))
	return configCmd
}

func newConfigGetCommand(ctx *commandContext) *cobra.Command {
	var defaults bool
	cmd := &cobra.Command{
		Use:   "get [prefix]",
		Short: "Print config values, optionally only keys under prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/system-config"
			if defaults {
				path += "/defaults"
			}
			var tree map[string]any
			if err := ctx.client().do(cmd.Context(), "GET", path, nil, &tree); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, tree)
			}

			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			flat := make(map[string]any)
			flattenTree(flat, "", tree)

			var rows [][]string
			for _, key := range sortedKeys(flat) {
				if prefix != "" && key != prefix && !strings.HasPrefix(key, prefix+".") {
					continue
				}
				rows = append(rows, []string{key, formatValue(flat[key])})
			}
			if len(rows) == 0 {
				return fmt.Errorf("no config key matches %q", prefix)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Show the built-in defaults instead of the current values")
	return cmd
}

func newConfigSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set key=value...",
		Short: "Change config values by dotted key, e.g. ffmpeg.crf=28",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			var tree map[string]any
			if err := client.do(cmd.Context(), "GET", "/api/system-config", nil, &tree); err != nil {
				return err
			}

			for _, arg := range args {
				key, raw, ok := strings.Cut(arg, "=")
				if !ok || key == "" {
					return fmt.Errorf("invalid assignment %q, want key=value", arg)
				}
				if err := setTreeValue(tree, strings.Split(key, "."), parseValue(raw)); err != nil {
					return fmt.Errorf("%s: %w", key, err)
				}
			}

			var updated map[string]any
			if err := client.do(cmd.Context(), "PUT", "/api/system-config", tree, &updated); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, updated)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %d value(s)\n", len(args))
			return nil
		},
	}
}

func flattenTree(out map[string]any, prefix string, node map[string]any) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flattenTree(out, key, child)
			continue
		}
		out[key] = v
	}
}

// setTreeValue assigns v at path. Intermediate objects must already exist,
// so a typo in a section name is reported rather than sent to the server.
// Leaf keys may be new only below "job", whose entries are per queue.
func setTreeValue(tree map[string]any, path []string, v any) error {
	node := tree
	for i, part := range path[:len(path)-1] {
		next, ok := node[part]
		if !ok && i > 0 && path[0] == "job" {
			child := make(map[string]any)
			node[part] = child
			node = child
			continue
		}
		child, isMap := next.(map[string]any)
		if !ok || !isMap {
			return fmt.Errorf("unknown section %q", strings.Join(path[:i+1], "."))
		}
		node = child
	}
	leaf := path[len(path)-1]
	if _, ok := node[leaf]; !ok && path[0] != "job" {
		return fmt.Errorf("unknown key")
	}
	if _, isMap := node[leaf].(map[string]any); isMap {
		return fmt.Errorf("is a section, set one of its keys")
	}
	node[leaf] = v
	return nil
}

// parseValue reads raw as a JSON scalar (number, bool or null) and falls
// back to a plain string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch v.(type) {
		case float64, bool, nil, string:
			return v
		}
	}
	return raw
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(raw)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
