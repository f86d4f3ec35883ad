package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Local writes blobs under a base directory.
type Local struct {
	baseDir       string
	publicBaseURL string
}

// NewLocal builds a local uploader. When publicBaseURL is empty the
// returned URL is a file:// URL of the written path.
func NewLocal(baseDir, publicBaseURL string) *Local {
	if baseDir == "" {
		baseDir = "./output"
	}
	return &Local{baseDir: baseDir, publicBaseURL: publicBaseURL}
}

func (l *Local) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	key, err := SanitizeKey(key)
	if err != nil {
		return "", err
	}
	path := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if l.publicBaseURL != "" {
		return joinURL(l.publicBaseURL, key), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs), nil
}
