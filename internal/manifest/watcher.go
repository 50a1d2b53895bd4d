package manifest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/octoscope/internal/assetstore"
)

// RemovedFunc is called after files deleted outside the app have been
// dropped from the manifest, with the URLs that were bound to them.
type RemovedFunc func(key assetstore.Key, urls []string)

const reconcileDelay = 200 * time.Millisecond

// Watch follows the asset root until ctx is cancelled and drops manifest
// rows for files that disappear. New folders are added to the watch list.
// Renames and directory removals trigger a debounced Reconcile.
func Watch(ctx context.Context, db *DB, store *assetstore.Store, logger *slog.Logger, cb RemovedFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := store.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			urls, recErr := Reconcile(db, store, logger)
			if recErr != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", recErr.Error()))
				continue
			}
			if len(urls) > 0 && cb != nil {
				cb(assetstore.Key{}, urls)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
				}
				continue
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 || assetstore.IsTemp(ev.Name) {
				continue
			}

			key, isAsset := store.KeyFor(ev.Name)
			if !isAsset {
				// Folder removed or renamed: let reconcile sort it out.
				scheduleReconcile()
				continue
			}
			if _, statErr := os.Stat(ev.Name); statErr == nil {
				// Replaced by an atomic write; still present.
				continue
			}
			urls, delErr := db.DeleteByPath(key.Folder, key.Name)
			if delErr != nil {
				logger.Warn("watcher: delete failed", slog.String("key", key.String()), slog.String("error", delErr.Error()))
				continue
			}
			if len(urls) == 0 {
				continue
			}
			logger.Debug("watcher: dropped", slog.String("key", key.String()), slog.Int("urls", len(urls)))
			if cb != nil {
				cb(key, urls)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
