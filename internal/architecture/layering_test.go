package architecture_test

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Layering rules, innermost first: domain imports no sibling package,
// platform sees only domain, handlers never reach up into the surfaces,
// and the CLI router does not depend on the TUI.
var allowed = map[string][]string{
	"domain":   {},
	"platform": {"domain", "platform"},
	"security": {"domain", "platform"},
	"handlers": {"domain", "platform", "security"},
	"collab":   {"domain", "platform", "handlers"},
	"queue":    {"domain", "platform", "handlers"},
	"batch":    {"domain", "platform"},
	"cli":      {"domain", "platform", "security", "handlers", "queue", "batch", "cli"},
	"ui":       {"domain", "platform", "security", "handlers", "queue", "batch", "cli", "ui"},
	"bootstrap": {
		"domain", "platform", "security", "handlers", "collab",
		"queue", "batch", "cli", "ui",
	},
}

func TestLayerImports(t *testing.T) {
	t.Parallel()
	fset := token.NewFileSet()
	err := filepath.WalkDir("..", func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		slash := filepath.ToSlash(path)
		layer := layerOf(slash)
		if layer == "" || layer == "architecture" {
			return nil
		}
		node, parseErr := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if parseErr != nil {
			return parseErr
		}
		permitted, known := allowed[layer]
		if !known {
			t.Fatalf("package outside the layer map: %s", slash)
		}
		for _, imp := range node.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)
			if !strings.HasPrefix(importPath, "kizuna/internal/") {
				continue
			}
			target := strings.Split(strings.TrimPrefix(importPath, "kizuna/internal/"), "/")[0]
			if target == layer {
				continue
			}
			if !contains(permitted, target) {
				t.Errorf("forbidden import in %s (%s): %s", slash, layer, importPath)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk internal: %v", err)
	}
}

// layerOf maps internal/<pkg>/... to its top-level layer name.
func layerOf(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == ".." && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
