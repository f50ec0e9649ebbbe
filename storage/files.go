package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"govault/models"
)

var (
	// ErrUnsafeFilename indicates a client-supplied filename that could escape
	// the vault directory.
	ErrUnsafeFilename = errors.New("storage: unsafe filename")
)

// FileVault writes decrypted file contents under a per-client directory.
type FileVault struct {
	dir string
}

// NewFileVault creates the vault directory if needed.
func NewFileVault(dir string) (*FileVault, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create file vault directory: %w", err)
	}
	return &FileVault{dir: dir}, nil
}

// Save writes data for (id, filename) atomically and returns the stored path.
// A re-transfer of the same filename replaces the previous contents.
func (v *FileVault) Save(id models.ClientID, filename string, data []byte) (string, error) {
	name, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}

	clientDir := filepath.Join(v.dir, id.String())
	if err := os.MkdirAll(clientDir, 0o700); err != nil {
		return "", fmt.Errorf("create client directory: %w", err)
	}

	finalPath := filepath.Join(clientDir, name)
	tempFile, err := os.CreateTemp(clientDir, name+".part-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("write file contents: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("finalize file: %w", err)
	}

	return finalPath, nil
}

func sanitizeFilename(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" || name == "." || name == ".." {
		return "", ErrUnsafeFilename
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return "", ErrUnsafeFilename
	}
	return name, nil
}
