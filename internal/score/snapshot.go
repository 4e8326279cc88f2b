package score

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/lemon07r/tally/internal/result"
)

// ManifestVersion is the snapshot and manifest format version.
const ManifestVersion = 1

// IntegrityScripts are the package.json scripts the scorer depends on.
var IntegrityScripts = []string{"build", "lint", "test", "typecheck"}

// Lockfiles are checked in order; the first present one is tracked.
var Lockfiles = []string{"bun.lock", "bun.lockb", "package-lock.json", "pnpm-lock.yaml", "yarn.lock", "go.sum"}

// manifestKeyFiles are always tracked when present, regardless of source filters.
var manifestKeyFiles = []string{"package.json", "tsconfig.json", "next.config.ts", "postcss.config.mjs", "vite.config.ts", "go.mod"}

var manifestSkipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	"coverage":     true,
	"screenshots":  true,
	".next":        true,
}

// FileEntry is one manifest entry.
type FileEntry struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Snapshot is the immutable pre-run state of a workspace. Stack integrity
// is judged against it rather than against the task file.
type Snapshot struct {
	Version   int                  `json:"version"`
	CreatedAt time.Time            `json:"created_at"`
	Scripts   map[string]string    `json:"scripts"`
	Lockfile  string               `json:"lockfile,omitempty"`
	LockHash  string               `json:"lock_hash,omitempty"`
	Files     map[string]FileEntry `json:"files"`
}

// TakeSnapshot records scripts, lockfile identity and a file manifest of
// workspace. dirs and exts select the source files included in the manifest.
func TakeSnapshot(workspace string, dirs, exts []string) (*Snapshot, error) {
	scripts, err := readScripts(workspace)
	if err != nil {
		return nil, err
	}
	lock, lockHash, err := findLockfile(workspace)
	if err != nil {
		return nil, err
	}
	files, err := buildManifest(workspace, dirs, exts)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Version:   ManifestVersion,
		CreatedAt: time.Now().UTC(),
		Scripts:   scripts,
		Lockfile:  lock,
		LockHash:  lockHash,
		Files:     files,
	}, nil
}

// SnapshotPath is where a workspace's pre-run snapshot is kept by default:
// next to the workspace directory, outside what the agent may edit.
func SnapshotPath(workspace string) (string, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("resolving workspace: %w", err)
	}
	return abs + ".snapshot.json", nil
}

// Save writes the snapshot as JSON.
func (s *Snapshot) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by Save.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if s.Version != ManifestVersion {
		return nil, fmt.Errorf("snapshot version %d is not supported (want %d)", s.Version, ManifestVersion)
	}
	return &s, nil
}

// Fingerprint hashes a manifest in path order.
func Fingerprint(files map[string]FileEntry) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := blake3.New()
	for _, p := range paths {
		fmt.Fprintf(h, "%s\x00%s\x00%d\n", p, files[p].Hash, files[p].Size)
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil))
}

// DiffManifests lists added, removed and modified paths, each sorted.
func DiffManifests(baseline, current map[string]FileEntry) result.FileChanges {
	changes := result.FileChanges{Added: []string{}, Removed: []string{}, Modified: []string{}}
	for p, cur := range current {
		base, ok := baseline[p]
		switch {
		case !ok:
			changes.Added = append(changes.Added, p)
		case base.Hash != cur.Hash:
			changes.Modified = append(changes.Modified, p)
		}
	}
	for p := range baseline {
		if _, ok := current[p]; !ok {
			changes.Removed = append(changes.Removed, p)
		}
	}
	sort.Strings(changes.Added)
	sort.Strings(changes.Removed)
	sort.Strings(changes.Modified)
	return changes
}

// readScripts returns package.json scripts. A missing or malformed
// package.json yields no scripts.
func readScripts(workspace string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(workspace, "package.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading package.json: %w", err)
	}
	var pkg struct {
		Scripts map[string]any `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return map[string]string{}, nil
	}
	scripts := make(map[string]string, len(pkg.Scripts))
	for k, v := range pkg.Scripts {
		scripts[k] = fmt.Sprint(v)
	}
	return scripts, nil
}

func findLockfile(workspace string) (name, hash string, err error) {
	for _, lf := range Lockfiles {
		path := filepath.Join(workspace, lf)
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		h, err := hashFile(path)
		if err != nil {
			return "", "", err
		}
		return lf, h, nil
	}
	return "", "", nil
}

func buildManifest(workspace string, dirs, exts []string) (map[string]FileEntry, error) {
	files := make(map[string]FileEntry)

	add := func(path string) error {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		h, err := hashFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(workspace, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = FileEntry{Hash: h, Size: info.Size()}
		return nil
	}

	for _, name := range manifestKeyFiles {
		path := filepath.Join(workspace, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := add(path); err != nil {
			return nil, fmt.Errorf("hashing %s: %w", name, err)
		}
	}

	for _, dir := range dirs {
		root := filepath.Join(workspace, dir)
		if _, err := os.Stat(root); err != nil {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && manifestSkipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !hasExt(path, exts) {
				return nil
			}
			return add(path)
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", dir, err)
		}
	}
	return files, nil
}

func hasExt(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	for _, e := range exts {
		if strings.HasSuffix(path, e) {
			return true
		}
	}
	return false
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil)), nil
}
