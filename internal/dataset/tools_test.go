package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestCountEntries(t *testing.T) {
	dir := t.TempDir()

	listPath := filepath.Join(dir, "list.json")
	os.WriteFile(listPath, []byte(`[1, 2, 3]`), 0o644)
	if n, err := CountEntries(listPath); err != nil || n != 3 {
		t.Errorf("list: n = %d err = %v, want 3 nil", n, err)
	}

	mapPath := filepath.Join(dir, "map.json")
	os.WriteFile(mapPath, []byte(`{"a": 1, "b": 2}`), 0o644)
	if n, err := CountEntries(mapPath); err != nil || n != 2 {
		t.Errorf("map: n = %d err = %v, want 2 nil", n, err)
	}

	scalarPath := filepath.Join(dir, "scalar.json")
	os.WriteFile(scalarPath, []byte(`42`), 0o644)
	if _, err := CountEntries(scalarPath); err == nil {
		t.Error("scalar root should error")
	}

	if _, err := CountEntries(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file should error")
	}
}

func TestCountFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{}`), 0o644)
	os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{}`), 0o644)
	os.WriteFile(filepath.Join(dir, "c.txt"), []byte(``), 0o644)
	os.Mkdir(filepath.Join(dir, "sub.json"), 0o755)

	n, err := CountFiles(dir)
	if err != nil {
		t.Fatalf("CountFiles: %v", err)
	}
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}
}

func TestMergeDir(t *testing.T) {
	in := t.TempDir()
	os.WriteFile(filepath.Join(in, "task1.json"), []byte(`{"grid": [[0]]}`), 0o644)
	os.WriteFile(filepath.Join(in, "task2.json"), []byte(`[{"id": "kept"}, {"x": 1}]`), 0o644)
	os.WriteFile(filepath.Join(in, "bad.json"), []byte(`{broken`), 0o644)
	os.WriteFile(filepath.Join(in, "ignored.txt"), []byte(`x`), 0o644)

	out := filepath.Join(t.TempDir(), "merged", "out.json")
	count, skipped, err := MergeDir(in, out)
	if err != nil {
		t.Fatalf("MergeDir: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if len(skipped) != 1 || skipped[0] != "bad.json" {
		t.Errorf("skipped = %v, want [bad.json]", skipped)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var merged []map[string]interface{}
	if err := json.Unmarshal(data, &merged); err != nil {
		t.Fatalf("output is not a JSON array of objects: %v", err)
	}

	ids := make(map[string]bool)
	for _, item := range merged {
		if id, ok := item["id"].(string); ok {
			ids[id] = true
		}
	}
	// task1's object and task2's id-less object get filename ids; the
	// object that already had one keeps it.
	for _, want := range []string{"task1", "task2", "kept"} {
		if !ids[want] {
			t.Errorf("missing id %q in merged output (have %v)", want, ids)
		}
	}
}

func TestMergeDir_MissingInput(t *testing.T) {
	if _, _, err := MergeDir("/does/not/exist", filepath.Join(t.TempDir(), "out.json")); err == nil {
		t.Error("expected error for missing input directory")
	}
}
