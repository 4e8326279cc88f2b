// Package tasks provides the embedded starter files written by tally init.
package tasks

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
)

// FS contains the starter task and config.
//
//go:embed starter
var FS embed.FS

// Starter renders every starter file for a task called name, keyed by file
// name.
func Starter(name string) (map[string]string, error) {
	entries, err := fs.ReadDir(FS, "starter")
	if err != nil {
		return nil, err
	}
	files := make(map[string]string, len(entries))
	for _, e := range entries {
		data, err := FS.ReadFile("starter/" + e.Name())
		if err != nil {
			return nil, err
		}
		tmpl, err := template.New(e.Name()).Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", e.Name(), err)
		}
		var sb strings.Builder
		if err := tmpl.Execute(&sb, struct{ Name string }{name}); err != nil {
			return nil, fmt.Errorf("rendering %s: %w", e.Name(), err)
		}
		files[e.Name()] = sb.String()
	}
	return files, nil
}
