package compliance

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// skipDirs are never scanned for source or test files.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	"coverage":     true,
}

// sourceFile is one scanned file with its workspace-relative path.
type sourceFile struct {
	Rel     string
	Content string
}

// sourceTree is the set of files compliance checks read. It is loaded once
// per evaluation so every check sees the same snapshot.
type sourceTree struct {
	files   []sourceFile
	anyRoot bool // at least one source directory exists
}

func (t *sourceTree) tests(markers []string) []sourceFile {
	var out []sourceFile
	for _, f := range t.files {
		base := filepath.Base(f.Rel)
		for _, m := range markers {
			if strings.Contains(base, m) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// loadSourceTree reads every file below dirs whose extension is in exts.
// Files are returned in lexical path order.
func loadSourceTree(workspace string, dirs, exts []string) (*sourceTree, error) {
	extSet := make(map[string]bool, len(exts))
	for _, e := range exts {
		extSet[strings.ToLower(e)] = true
	}

	tree := &sourceTree{}
	seen := make(map[string]bool)

	for _, dir := range dirs {
		root := filepath.Join(workspace, dir)
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			continue
		}
		tree.anyRoot = true

		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if p != root && skipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if len(extSet) > 0 && !extSet[strings.ToLower(filepath.Ext(p))] {
				return nil
			}
			rel, err := filepath.Rel(workspace, p)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if seen[rel] {
				return nil
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return nil
			}
			seen[rel] = true
			tree.files = append(tree.files, sourceFile{Rel: rel, Content: string(data)})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// excerpt concatenates source files for a judge prompt, capped at max bytes.
func (t *sourceTree) excerpt(max int) string {
	if !t.anyRoot {
		return "No source directory found"
	}
	var b strings.Builder
	for _, f := range t.files {
		block := "=== " + f.Rel + " ===\n" + f.Content + "\n"
		if b.Len()+len(block) > max {
			remaining := max - b.Len()
			if remaining > 0 {
				b.WriteString(block[:remaining])
			}
			b.WriteString("\n... (truncated)")
			break
		}
		b.WriteString(block)
	}
	return b.String()
}
