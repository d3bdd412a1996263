package gridbase

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755

	tempPattern = ".gridbase-*.tmp"
)

// FilesystemBackend stores each object as a file below basePath. Keys use
// forward slashes on every platform.
type FilesystemBackend struct {
	basePath string
	locks    *StripedLocks
}

// NewFilesystemBackend creates a backend rooted at basePath.
func NewFilesystemBackend(basePath string) *FilesystemBackend {
	return &FilesystemBackend{
		basePath: basePath,
		locks:    NewStripedLocks(32),
	}
}

// resolve maps key to a file path. Keys are cleaned so they stay below basePath.
func (b *FilesystemBackend) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, `\`) {
		return "", WithContext(ErrInvalidData, map[string]interface{}{
			"key":    key,
			"reason": "not a valid object key",
		})
	}
	return filepath.Join(b.basePath, filepath.FromSlash(clean[1:])), nil
}

func fsError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrUnauthorized
	}
	return err
}

func (b *FilesystemBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := b.resolve(key)
	if err != nil {
		return nil, err
	}

	unlock := b.locks.RLock(key)
	defer unlock()

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fsError(err)
	}
	return data, nil
}

// Put replaces the object through a temp file and rename, so a reader sees
// either the old sheet or the new one.
func (b *FilesystemBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := b.resolve(key)
	if err != nil {
		return err
	}

	unlock := b.locks.Lock(key)
	defer unlock()

	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fsError(err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", fsError(err))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(DefaultFilePermissions); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (b *FilesystemBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := b.resolve(key)
	if err != nil {
		return err
	}

	unlock := b.locks.Lock(key)
	defer unlock()

	return fsError(os.Remove(file))
}

// List returns the keys of every object in the prefix directory and below.
func (b *FilesystemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	root := b.basePath
	if strings.Trim(prefix, "/") != "" {
		var err error
		if root, err = b.resolve(prefix); err != nil {
			return nil, err
		}
	}

	var keys []string
	err := filepath.WalkDir(root, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && file == root {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || isTempName(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(b.basePath, file)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	return keys, err
}

func isTempName(name string) bool {
	ok, _ := filepath.Match(tempPattern, name)
	return ok || name == healthCheckFile
}

const healthCheckFile = ".health_check"

// Ping checks that basePath is a writable directory.
func (b *FilesystemBackend) Ping(ctx context.Context) error {
	info, err := os.Stat(b.basePath)
	if err != nil {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"base_path": b.basePath,
			"reason":    err.Error(),
		})
	}
	if !info.IsDir() {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"base_path": b.basePath,
			"reason":    "not a directory",
		})
	}

	probe := filepath.Join(b.basePath, healthCheckFile)
	if err := os.WriteFile(probe, []byte("ok"), DefaultFilePermissions); err != nil {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"base_path": b.basePath,
			"reason":    err.Error(),
		})
	}
	return os.Remove(probe)
}

func (b *FilesystemBackend) Close() error {
	return nil
}
