// Package storage keeps derived media (processed images) on local disk and
// serves them under a public base URL so remote platforms can fetch them.
package storage

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"liguns/internal/config"

	"github.com/google/uuid"
)

// LocalStore writes files under dir and exposes them as publicBaseURL/<key>.
type LocalStore struct {
	dir           string
	publicBaseURL string
	now           func() time.Time
}

func NewLocalStore(cfg config.StorageConfig) (*LocalStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{
		dir:           cfg.Dir,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		now:           time.Now,
	}, nil
}

// Upload stores a processed image for userID and returns its public URL.
// Keys follow <user>/<unix-millis>-<short-id>-processed.jpg.
func (s *LocalStore) Upload(_ context.Context, userID string, data []byte) (string, error) {
	if userID == "" {
		userID = "anonymous"
	}
	if strings.ContainsAny(userID, `/\`) || userID == ".." {
		return "", fmt.Errorf("invalid user id %q", userID)
	}

	name := fmt.Sprintf("%d-%s-processed.jpg", s.now().UnixMilli(), uuid.NewString()[:8])
	key := path.Join(userID, name)

	full := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create user dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write media: %w", err)
	}

	return s.URL(key), nil
}

// URL maps a storage key to its public address.
func (s *LocalStore) URL(key string) string {
	return s.publicBaseURL + "/" + strings.TrimLeft(key, "/")
}

// Handler serves stored files; mount it under the public path prefix.
func (s *LocalStore) Handler(prefix string) http.Handler {
	return http.StripPrefix(prefix, http.FileServer(http.Dir(s.dir)))
}
