package statemachine

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleGraph = `{
  tenantId: "tenant-1",
  name: "sales",
  version: 1,
  initialState: "greeting",
  states: {
    greeting: {
      objective: "welcome the user",
      allowedTransitions: ["qualifying"],
    },
    qualifying: {
      objective: "assess fit",
      allowedTransitions: [],
    },
  },
}`

func TestNewLoaderLoadsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sales.json5"), []byte(sampleGraph), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	defer loader.Close()

	rt, ok := loader.Get("sales")
	if !ok {
		t.Fatal("expected sales state machine to be loaded")
	}
	if rt.InitialState() != "greeting" {
		t.Errorf("unexpected initial state %q", rt.InitialState())
	}
}

func TestLoaderHotReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.json5")
	if err := os.WriteFile(path, []byte(sampleGraph), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	defer loader.Close()

	updated := `{
  tenantId: "tenant-1",
  name: "sales",
  version: 2,
  initialState: "qualifying",
  states: {
    qualifying: {
      objective: "assess fit",
      allowedTransitions: [],
    },
  },
}`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite fixture: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rt, ok := loader.Get("sales"); ok && rt.InitialState() == "qualifying" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected hot-reload to pick up the updated initial state")
}
