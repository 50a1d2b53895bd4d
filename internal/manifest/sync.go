package manifest

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/starford/octoscope/internal/assetstore"
)

// Reconcile removes rows whose file no longer exists under the asset root
// and returns the URLs that were dropped.
func Reconcile(db *DB, store *assetstore.Store, logger *slog.Logger) ([]string, error) {
	entries, err := db.List()
	if err != nil {
		return nil, err
	}

	var dropped []string
	seen := make(map[assetstore.Key]struct{})
	for _, e := range entries {
		key := assetstore.Key{Folder: e.Folder, Name: e.Name}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		p, err := store.Path(key)
		if err == nil {
			if _, statErr := os.Stat(p); statErr == nil || !errors.Is(statErr, fs.ErrNotExist) {
				continue
			}
		}
		urls, delErr := db.DeleteByPath(e.Folder, e.Name)
		if delErr != nil {
			logger.Warn("reconcile: delete failed", slog.String("key", key.String()), slog.String("error", delErr.Error()))
			continue
		}
		logger.Debug("reconcile: removed stale", slog.String("key", key.String()))
		dropped = append(dropped, urls...)
	}
	return dropped, nil
}
