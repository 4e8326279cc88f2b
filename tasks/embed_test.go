package tasks

import (
	"path/filepath"
	"testing"

	"github.com/lemon07r/tally/internal/task"
)

func TestStarter(t *testing.T) {
	t.Parallel()

	files, err := Starter("todo-app")
	if err != nil {
		t.Fatalf("Starter() error = %v", err)
	}
	for _, name := range []string{"task.yaml", "tally.toml"} {
		if _, ok := files[name]; !ok {
			t.Errorf("Starter() missing %s", name)
		}
	}

	spec, err := task.Parse([]byte(files["task.yaml"]), filepath.Ext("task.yaml"))
	if err != nil {
		t.Fatalf("starter task does not parse: %v", err)
	}
	if spec.Name != "todo-app" {
		t.Errorf("Name = %q, want todo-app", spec.Name)
	}
}
