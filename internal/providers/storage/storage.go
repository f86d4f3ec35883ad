package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// Uploader stores a blob and returns a retrievable URL.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// ErrInvalidKey is returned for keys that escape the storage root.
var ErrInvalidKey = errors.New("invalid storage key")

// SanitizeKey cleans key into a relative slash-separated path.
func SanitizeKey(key string) (string, error) {
	key = filepath.ToSlash(filepath.Clean(key))
	key = strings.TrimPrefix(key, "/")
	key = strings.TrimPrefix(key, "./")
	if key == "" || key == "." || key == ".." || strings.HasPrefix(key, "../") {
		return "", ErrInvalidKey
	}
	return key, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
