package compliance

import (
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// MatchGlob reports whether the slash-separated path value matches pattern.
// A "*" stays within one path segment; a "**" segment matches zero or more
// whole segments.
func MatchGlob(pattern, value string) bool {
	pattern = strings.Trim(filepath.ToSlash(pattern), "/")
	value = strings.Trim(filepath.ToSlash(value), "/")
	if strings.HasPrefix(pattern, "./") {
		pattern = pattern[2:]
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(value, "/"))
}

func matchSegments(pat, val []string) bool {
	for len(pat) > 0 && len(val) > 0 {
		if pat[0] == "**" {
			pat = pat[1:]
			if len(pat) == 0 {
				return true
			}
			for i := 0; i <= len(val); i++ {
				if matchSegments(pat, val[i:]) {
					return true
				}
			}
			return false
		}
		if ok, _ := path.Match(pat[0], val[0]); !ok {
			return false
		}
		pat = pat[1:]
		val = val[1:]
	}

	for _, p := range pat {
		if p != "**" {
			return false
		}
	}
	return len(val) == 0
}

// globWorkspace returns the workspace-relative paths (files and directories)
// matching pattern. Skipped directories are only entered when the pattern
// names them explicitly as its first segment.
func globWorkspace(workspace, pattern string) ([]string, error) {
	first, _, _ := strings.Cut(strings.TrimPrefix(filepath.ToSlash(pattern), "./"), "/")

	var matches []string
	err := filepath.WalkDir(workspace, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p == workspace {
			return nil
		}
		rel, relErr := filepath.Rel(workspace, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() && skipDirs[d.Name()] && d.Name() != first {
			return filepath.SkipDir
		}
		if MatchGlob(pattern, rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	return matches, err
}
