package score

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lemon07r/tally/internal/result"
	"github.com/lemon07r/tally/internal/task"
)

// Baseline sources recorded in StackIntegrity.BaselineSource.
const (
	BaselineSnapshot = "snapshot"
	BaselineTask     = "task"
	BaselineNone     = "none"
)

// StackIntegrity compares the workspace's verification scripts and lockfile
// against the pre-run snapshot. Without a snapshot it falls back to the
// task's baseline_scripts, which cannot cover the lockfile. With neither the
// check fails: scripts read back from the workspace prove nothing.
func StackIntegrity(workspace string, snap *Snapshot, spec *task.Spec) (result.StackIntegrity, error) {
	current, err := readScripts(workspace)
	if err != nil {
		return result.StackIntegrity{}, err
	}

	si := result.StackIntegrity{ScriptsChecked: []string{}}

	var baseline map[string]string
	switch {
	case snap != nil:
		si.BaselineSource = BaselineSnapshot
		baseline = snap.Scripts
	case spec != nil && len(spec.BaselineScripts) > 0:
		si.BaselineSource = BaselineTask
		baseline = spec.BaselineScripts
	default:
		si.BaselineSource = BaselineNone
		si.Detail = "no pre-run snapshot or task baseline_scripts to check against"
		return si, nil
	}

	for _, name := range IntegrityScripts {
		want, inBaseline := baseline[name]
		got, inCurrent := current[name]
		if !inBaseline && (si.BaselineSource == BaselineTask || !inCurrent) {
			continue
		}
		si.ScriptsChecked = append(si.ScriptsChecked, name)
		if want != got || inBaseline != inCurrent {
			si.ChangedScripts = append(si.ChangedScripts, result.ScriptChange{Name: name, Expected: want, Actual: got})
		}
	}

	if snap != nil {
		lock, lockHash, err := findLockfile(workspace)
		if err != nil {
			return result.StackIntegrity{}, fmt.Errorf("hashing lockfile: %w", err)
		}
		si.Lockfile = snap.Lockfile
		if si.Lockfile == "" {
			si.Lockfile = lock
		}
		si.BaselineLockHash = snap.LockHash
		si.CurrentLockHash = lockHash
		si.LockfileChanged = snap.Lockfile != lock || snap.LockHash != lockHash
	}

	si.Passed = len(si.ChangedScripts) == 0 && !si.LockfileChanged
	si.Detail = integrityDetail(si)
	return si, nil
}

func integrityDetail(si result.StackIntegrity) string {
	var problems []string
	if len(si.ChangedScripts) > 0 {
		names := make([]string, 0, len(si.ChangedScripts))
		for _, c := range si.ChangedScripts {
			names = append(names, c.Name)
		}
		sort.Strings(names)
		problems = append(problems, "scripts changed: "+strings.Join(names, ", "))
	}
	if si.LockfileChanged {
		problems = append(problems, "lockfile changed")
	}
	if len(problems) > 0 {
		return strings.Join(problems, "; ") + " (baseline: " + si.BaselineSource + ")"
	}
	return fmt.Sprintf("%d scripts unchanged against %s baseline", len(si.ScriptsChecked), si.BaselineSource)
}

// Audit builds the scaffold audit of workspace, diffed against snap when given.
func Audit(workspace string, snap *Snapshot, dirs, exts []string) (*result.ScaffoldAudit, error) {
	files, err := buildManifest(workspace, dirs, exts)
	if err != nil {
		return nil, err
	}
	audit := &result.ScaffoldAudit{
		ManifestVersion: ManifestVersion,
		Fingerprint:     Fingerprint(files),
		FileCount:       len(files),
	}
	if snap != nil {
		changes := DiffManifests(snap.Files, files)
		audit.ChangesFromBaseline = &changes
	}
	return audit, nil
}
