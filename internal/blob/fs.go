package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FSStore keeps blobs as flat files under a root directory, one file per
// ref. Refs are uuid-based with the original extension kept for operator
// convenience.
type FSStore struct {
	root   string
	logger *slog.Logger
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string, logger *slog.Logger) (*FSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root %s: %w", root, err)
	}
	return &FSStore{
		root:   root,
		logger: logger.With(slog.String("component", "blob.fsstore")),
	}, nil
}

func (s *FSStore) Open(ctx context.Context, ref Ref) (io.ReadCloser, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blob: open %s: %w", ref, err)
	}
	return f, nil
}

func (s *FSStore) Create(ctx context.Context, name string) (io.WriteCloser, Ref, error) {
	ext := filepath.Ext(name)
	ref := Ref(uuid.New().String() + strings.ToLower(ext))

	path, err := s.path(ref)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("blob: create %s: %w", ref, err)
	}

	s.logger.Debug("blob created",
		slog.String("ref", string(ref)),
		slog.String("name", name))
	return f, ref, nil
}

func (s *FSStore) Delete(ctx context.Context, ref Ref) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("blob: delete %s: %w", ref, err)
	}
	return nil
}

// path rejects refs that would escape the root directory.
func (s *FSStore) path(ref Ref) (string, error) {
	name := string(ref)
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("blob: invalid ref %q", ref)
	}
	return filepath.Join(s.root, name), nil
}

var _ Store = (*FSStore)(nil)
