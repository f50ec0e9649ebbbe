package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"govault/models"
)

func TestFileVaultSaveAndReplace(t *testing.T) {
	vaultDir := filepath.Join(t.TempDir(), "files")
	fileVault, err := NewFileVault(vaultDir)
	if err != nil {
		t.Fatalf("NewFileVault failed: %v", err)
	}

	id := models.NewClientID()
	path, err := fileVault.Save(id, "report.doc", []byte("first version"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(vaultDir, id.String()) {
		t.Fatalf("file %q not under the client directory", path)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stored file failed: %v", err)
	}
	if !bytes.Equal(contents, []byte("first version")) {
		t.Fatalf("stored contents mismatch: %q", contents)
	}

	replaced, err := fileVault.Save(id, "report.doc", []byte("second version"))
	if err != nil {
		t.Fatalf("Save (replace) failed: %v", err)
	}
	if replaced != path {
		t.Fatalf("re-transfer must land at the same path")
	}
	contents, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read replaced file failed: %v", err)
	}
	if !bytes.Equal(contents, []byte("second version")) {
		t.Fatalf("replaced contents mismatch: %q", contents)
	}
}

func TestFileVaultSeparatesClients(t *testing.T) {
	fileVault, err := NewFileVault(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileVault failed: %v", err)
	}

	first, err := fileVault.Save(models.NewClientID(), "same.txt", []byte("alpha"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	second, err := fileVault.Save(models.NewClientID(), "same.txt", []byte("beta"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if first == second {
		t.Fatalf("different clients must not share file paths")
	}
}

func TestFileVaultRejectsUnsafeFilenames(t *testing.T) {
	fileVault, err := NewFileVault(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileVault failed: %v", err)
	}

	id := models.NewClientID()
	for _, name := range []string{"", ".", "..", "../escape", "dir/inner.txt", `dir\inner.txt`, "  "} {
		if _, err := fileVault.Save(id, name, []byte("x")); !errors.Is(err, ErrUnsafeFilename) {
			t.Fatalf("filename %q: expected ErrUnsafeFilename, got %v", name, err)
		}
	}
}

func TestFileVaultLeavesNoTempFiles(t *testing.T) {
	vaultDir := t.TempDir()
	fileVault, err := NewFileVault(vaultDir)
	if err != nil {
		t.Fatalf("NewFileVault failed: %v", err)
	}

	id := models.NewClientID()
	if _, err := fileVault.Save(id, "clean.bin", make([]byte, 4096)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(vaultDir, id.String()))
	if err != nil {
		t.Fatalf("read client directory failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "clean.bin" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
}
