// Package assetstore persists encoded avatars on the local file system under
// {root}/{folder}/{name}.png.
package assetstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/starford/octoscope/internal/apperr"
)

// Ext is the extension of every stored asset.
const Ext = ".png"

const tmpPrefix = ".octoscope-tmp-"

// Key addresses a stored asset. Both parts must be single path components.
type Key struct {
	Folder string
	Name   string
}

func (k Key) String() string { return k.Folder + "/" + k.Name + Ext }

// StoredAsset describes one file found by List.
type StoredAsset struct {
	Key
	Path    string
	Size    int64
	ModTime time.Time
}

// Store is the disk tier of the asset cache.
type Store struct {
	root   string
	logger *slog.Logger
}

// New returns a store rooted at root, creating the directory if needed.
func New(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.IO("assetstore: resolve root", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, apperr.IO("assetstore: create root", err)
	}
	return &Store{root: abs, logger: logger}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

func checkComponent(what, v string) error {
	switch {
	case v == "", v == ".", v == "..":
		return fmt.Errorf("invalid %s %q", what, v)
	case strings.ContainsAny(v, `/\`+"\x00"):
		return fmt.Errorf("%s %q must be a single path component", what, v)
	}
	return nil
}

// Validate checks that folder and name are each a single path component.
func (k Key) Validate() error {
	if err := checkComponent("folder", k.Folder); err != nil {
		return err
	}
	return checkComponent("name", k.Name)
}

// Path returns the on-disk location of key.
func (s *Store) Path(key Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", apperr.IO("assetstore: path", err)
	}
	p := filepath.Join(s.root, key.Folder, key.Name+Ext)
	if !strings.HasPrefix(p, s.root+string(os.PathSeparator)) {
		return "", apperr.IO("assetstore: path", fmt.Errorf("%s escapes asset root", key))
	}
	return p, nil
}

// KeyFor maps an absolute file path under the root back to its key.
func (s *Store) KeyFor(path string) (Key, bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return Key{}, false
	}
	folder, file := filepath.Split(rel)
	folder = filepath.Clean(folder)
	if folder == "." || strings.ContainsRune(folder, os.PathSeparator) || !strings.HasSuffix(file, Ext) {
		return Key{}, false
	}
	k := Key{Folder: folder, Name: strings.TrimSuffix(file, Ext)}
	if checkComponent("folder", k.Folder) != nil || checkComponent("name", k.Name) != nil {
		return Key{}, false
	}
	return k, true
}

// IsTemp reports whether path is an in-progress write.
func IsTemp(path string) bool {
	return strings.HasPrefix(filepath.Base(path), tmpPrefix)
}

// EnsureFolder creates the folder if it does not exist yet.
func (s *Store) EnsureFolder(folder string) error {
	if err := checkComponent("folder", folder); err != nil {
		return apperr.IO("assetstore: ensure folder", err)
	}
	if err := os.MkdirAll(filepath.Join(s.root, folder), 0o755); err != nil {
		return apperr.IO("assetstore: ensure folder "+folder, err)
	}
	return nil
}

// Put writes data for key, replacing any previous file atomically.
func (s *Store) Put(key Key, data []byte) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := s.EnsureFolder(key.Folder); err != nil {
		return err
	}

	dir := filepath.Dir(p)
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return apperr.IO("assetstore: create temp", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return apperr.IO("assetstore: write temp", err)
	}
	if err := tmp.Sync(); err != nil {
		return apperr.IO("assetstore: fsync", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.IO("assetstore: close temp", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return apperr.IO("assetstore: rename", err)
	}
	success = true
	return nil
}

// Get reads the file for key. A missing folder or file is a miss, not an
// error. A hit refreshes the file's modification time so Prune sees it as
// recently used.
func (s *Store) Get(key Key) ([]byte, bool, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, apperr.IO("assetstore: read "+key.String(), err)
	}
	now := time.Now()
	if err := os.Chtimes(p, now, now); err != nil {
		s.logger.Debug("assetstore: touch failed", slog.String("key", key.String()), slog.Any("error", err))
	}
	return data, true, nil
}

// Remove deletes the file for key. Removing a missing file is not an error.
func (s *Store) Remove(key Key) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.IO("assetstore: remove "+key.String(), err)
	}
	return nil
}

// List inventories every stored asset.
func (s *Store) List() ([]StoredAsset, error) {
	var out []StoredAsset
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || IsTemp(p) {
			return nil
		}
		key, ok := s.KeyFor(p)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		out = append(out, StoredAsset{Key: key, Path: p, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, apperr.IO("assetstore: list", err)
	}
	return out, nil
}

// Prune removes the least recently used files until the total size is at
// most maxBytes. maxBytes <= 0 means unbounded and prunes nothing.
func (s *Store) Prune(maxBytes int64) (int64, []Key, error) {
	if maxBytes <= 0 {
		return 0, nil, nil
	}
	assets, err := s.List()
	if err != nil {
		return 0, nil, err
	}
	var total int64
	for _, a := range assets {
		total += a.Size
	}
	if total <= maxBytes {
		return 0, nil, nil
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].ModTime.Before(assets[j].ModTime) })

	var freed int64
	var removed []Key
	for _, a := range assets {
		if total <= maxBytes {
			break
		}
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return freed, removed, apperr.IO("assetstore: prune "+a.Key.String(), err)
		}
		total -= a.Size
		freed += a.Size
		removed = append(removed, a.Key)
	}
	s.logger.Info("assetstore: pruned",
		slog.Int("files", len(removed)),
		slog.String("freed", humanize.IBytes(uint64(freed))),
		slog.String("bound", humanize.IBytes(uint64(maxBytes))),
	)
	return freed, removed, nil
}
