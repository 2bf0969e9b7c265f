package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.WriteFile("/data/run/params.json", []byte("{}"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := m.ReadFile("/data/run/../run/params.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "{}" {
		t.Errorf("ReadFile = %q, want {}", got)
	}

	// Returned data is a copy.
	got[0] = 'x'
	again, _ := m.ReadFile("/data/run/params.json")
	if string(again) != "{}" {
		t.Errorf("stored data mutated: %q", again)
	}

	if _, err := m.ReadFile("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile(missing) = %v, want ErrNotExist", err)
	}
}

func TestMemoryFileSystem_Stat(t *testing.T) {
	m := NewMemoryFileSystem()
	_ = m.MkdirAll("/data/run", 0755)
	_ = m.WriteFile("/data/run/fields.db", []byte("abc"), 0644)

	info, err := m.Stat("/data/run")
	if err != nil || !info.IsDir() {
		t.Fatalf("Stat(dir) = %v, %v", info, err)
	}
	info, err = m.Stat("/data/run/fields.db")
	if err != nil || info.IsDir() || info.Size() != 3 || info.Name() != "fields.db" {
		t.Fatalf("Stat(file) = %+v, %v", info, err)
	}
	if _, err := m.Stat("/nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat(missing) = %v", err)
	}
}

func TestMemoryFileSystem_MkdirAllCreatesParents(t *testing.T) {
	m := NewMemoryFileSystem()
	_ = m.MkdirAll("/a/b/c", 0755)
	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		if !m.Exists(p) {
			t.Errorf("Exists(%q) = false", p)
		}
	}
}

func TestMemoryFileSystem_Remove(t *testing.T) {
	m := NewMemoryFileSystem()
	_ = m.MkdirAll("/d", 0755)
	_ = m.WriteFile("/d/f", nil, 0644)

	if err := m.Remove("/d"); err == nil {
		t.Error("Remove(non-empty dir) succeeded")
	}
	if err := m.Remove("/d/f"); err != nil {
		t.Fatalf("Remove(file): %v", err)
	}
	if err := m.Remove("/d"); err != nil {
		t.Fatalf("Remove(empty dir): %v", err)
	}
	if err := m.Remove("/d"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Remove(missing) = %v", err)
	}
}

func TestMemoryFileSystem_RenameTree(t *testing.T) {
	m := NewMemoryFileSystem()
	_ = m.MkdirAll("/data/run/atmosphere", 0755)
	_ = m.WriteFile("/data/run/params.json", []byte("p"), 0644)
	_ = m.WriteFile("/data/run/atmosphere/screen_0", []byte("s"), 0644)
	_ = m.WriteFile("/data/runner/keep", []byte("k"), 0644)

	if err := m.Rename("/data/run", "/data/run_backup"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	want := []string{
		"/data/",
		"/data/run_backup/",
		"/data/run_backup/atmosphere/",
		"/data/run_backup/atmosphere/screen_0",
		"/data/run_backup/params.json",
		"/data/runner/keep",
	}
	if diff := cmp.Diff(want, m.Paths()); diff != "" {
		t.Errorf("Paths() mismatch (-want +got):\n%s", diff)
	}

	if err := m.Rename("/data/run", "/x"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Rename(missing) = %v", err)
	}
	if err := m.Rename("/data/runner/keep", "/data/run_backup/params.json"); !errors.Is(err, fs.ErrExist) {
		t.Errorf("Rename(onto existing) = %v", err)
	}
}

func TestOSFileSystem(t *testing.T) {
	var osfs OSFileSystem
	dir := t.TempDir()
	run := filepath.Join(dir, "run", "aberrations")

	if err := osfs.MkdirAll(run, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	file := filepath.Join(dir, "run", "params.json")
	if err := osfs.WriteFile(file, []byte("{}"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !osfs.Exists(file) {
		t.Error("Exists(file) = false")
	}
	moved := filepath.Join(dir, "run_backup")
	if err := osfs.Rename(filepath.Join(dir, "run"), moved); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	data, err := osfs.ReadFile(filepath.Join(moved, "params.json"))
	if err != nil || string(data) != "{}" {
		t.Errorf("ReadFile after rename = %q, %v", data, err)
	}
	if info, err := osfs.Stat(filepath.Join(moved, "aberrations")); err != nil || !info.IsDir() {
		t.Errorf("Stat(aberrations) = %v, %v", info, err)
	}
	if err := osfs.Remove(filepath.Join(moved, "params.json")); err != nil {
		t.Errorf("Remove: %v", err)
	}
	if osfs.Exists(filepath.Join(moved, "params.json")) {
		t.Error("file still exists after Remove")
	}
}
