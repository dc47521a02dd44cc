package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"kiosk/internal/config"
	"kiosk/internal/faults"
	"kiosk/internal/logging"
	"kiosk/internal/store"
)

var playableExtensions = map[string]struct{}{
	".mp4":  {},
	".mkv":  {},
	".mov":  {},
	".avi":  {},
	".webm": {},
	".m4v":  {},
	".mpg":  {},
	".mpeg": {},
	".ts":   {},
}

// Playable reports whether the file extension is one the player accepts.
func Playable(path string) bool {
	_, ok := playableExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Library exposes the registered asset catalog.
type Library struct {
	store  *store.Store
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	active  string
	pending map[string]string
}

// New builds a library over the shared store.
func New(st *store.Store, cfg *config.Config, logger *slog.Logger) *Library {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Library{
		store:   st,
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "library"),
		pending: make(map[string]string),
	}
}

// SetActive records the path the scheduler currently renders. Removals that
// were deferred because their asset was on screen complete here once the
// scheduler has moved on. An empty path means nothing is loaded.
func (l *Library) SetActive(ctx context.Context, path string) {
	l.mu.Lock()
	l.active = path
	var due []string
	for id, pendingPath := range l.pending {
		if pendingPath == path {
			continue
		}
		due = append(due, id)
		delete(l.pending, id)
	}
	l.mu.Unlock()

	for _, id := range due {
		if err := l.deleteAsset(ctx, id); err != nil {
			l.logger.Warn("deferred asset removal failed",
				logging.String(logging.FieldAssetID, id),
				logging.Error(err),
			)
			continue
		}
		l.logger.Info("deferred asset removal completed", logging.String(logging.FieldAssetID, id))
	}
}

// Register records a verified file as a playable asset. Re-registering a
// path replaces the previous row so the catalog never lists duplicates.
func (l *Library) Register(ctx context.Context, path, checksum, sourceTaskID string) (*store.Asset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, faults.Wrap(faults.ErrCorruptPayload, "library", "register", fmt.Sprintf("asset file %s", path), err)
	}
	if info.IsDir() {
		return nil, faults.Wrap(faults.ErrCorruptPayload, "library", "register", fmt.Sprintf("asset path %s is a directory", path), nil)
	}

	asset, err := l.store.SaveAsset(ctx, store.Asset{
		ID:           uuid.NewString(),
		Path:         path,
		Checksum:     checksum,
		SizeBytes:    info.Size(),
		Title:        DeriveTitle(path),
		SourceTaskID: sourceTaskID,
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("asset registered",
		logging.String(logging.FieldAssetID, asset.ID),
		logging.String("path", asset.Path),
		logging.Int64("size_bytes", asset.SizeBytes),
	)
	return asset, nil
}

// List returns the full catalog ordered by title.
func (l *Library) List(ctx context.Context) ([]*store.Asset, error) {
	return l.store.ListAssets(ctx)
}

// ByID fetches one asset, or nil when unknown.
func (l *Library) ByID(ctx context.Context, id string) (*store.Asset, error) {
	return l.store.AssetByID(ctx, id)
}

// Count returns the catalog size.
func (l *Library) Count(ctx context.Context) (int, error) {
	return l.store.AssetCount(ctx)
}

// Resolve maps a playback reference to an absolute file path. A reference is
// either a registered asset identifier or a file name under the video root;
// anything that escapes the root is rejected.
func (l *Library) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", faults.Wrap(faults.ErrProtocol, "library", "resolve", "empty playback reference", nil)
	}

	if asset, err := l.store.AssetByID(ctx, ref); err != nil {
		return "", err
	} else if asset != nil {
		if _, err := os.Stat(asset.Path); err != nil {
			return "", faults.Wrap(faults.ErrCorruptPayload, "library", "resolve", fmt.Sprintf("asset %s file missing at %s", ref, asset.Path), err)
		}
		return asset.Path, nil
	}

	root := l.cfg.VideoPath()
	candidate := ref
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)
	if !pathWithin(root, candidate) {
		return "", faults.Wrap(faults.ErrProtocol, "library", "resolve", fmt.Sprintf("reference %q escapes the video root", ref), nil)
	}
	if _, err := os.Stat(candidate); err != nil {
		return "", faults.Wrap(faults.ErrCorruptPayload, "library", "resolve", fmt.Sprintf("no asset or file for reference %q", ref), err)
	}
	return candidate, nil
}

// Remove deletes an asset's file and its catalog row. When the asset is the
// active render target the removal is deferred instead: it completes on the
// next SetActive call that moves off the file, and Remove reports
// deferred=true with no error.
func (l *Library) Remove(ctx context.Context, id string) (deferred bool, err error) {
	asset, err := l.store.AssetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if asset == nil {
		return false, faults.Wrap(faults.ErrProtocol, "library", "remove", fmt.Sprintf("unknown asset %q", id), nil)
	}

	l.mu.Lock()
	if l.active != "" && l.active == asset.Path {
		l.pending[asset.ID] = asset.Path
		l.mu.Unlock()
		l.logger.Info("asset removal deferred until playback moves on",
			logging.String(logging.FieldAssetID, id),
			logging.String("path", asset.Path),
		)
		return true, nil
	}
	l.mu.Unlock()

	return false, l.deleteAsset(ctx, id)
}

// PendingRemovals lists asset ids queued behind the active render target.
func (l *Library) PendingRemovals() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.pending))
	for id := range l.pending {
		ids = append(ids, id)
	}
	return ids
}

func (l *Library) deleteAsset(ctx context.Context, id string) error {
	asset, err := l.store.AssetByID(ctx, id)
	if err != nil {
		return err
	}
	if asset == nil {
		return nil
	}
	if err := os.Remove(asset.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return faults.Wrap(faults.ErrResourceBusy, "library", "remove", fmt.Sprintf("delete file %s", asset.Path), err)
	}
	if _, err := l.store.RemoveAsset(ctx, id); err != nil {
		return err
	}
	l.logger.Info("asset removed",
		logging.String(logging.FieldAssetID, id),
		logging.String("path", asset.Path),
	)
	return nil
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Registered int
	Dropped    int
}

// Reconcile walks the media root and repairs drift between the catalog and
// the filesystem: rows whose file vanished are dropped, playable files with
// no row are registered.
func (l *Library) Reconcile(ctx context.Context) (ReconcileResult, error) {
	result := ReconcileResult{}

	assets, err := l.store.ListAssets(ctx)
	if err != nil {
		return result, err
	}
	known := make(map[string]struct{}, len(assets))
	for _, asset := range assets {
		known[asset.Path] = struct{}{}
		if _, statErr := os.Stat(asset.Path); statErr == nil {
			continue
		} else if !errors.Is(statErr, fs.ErrNotExist) {
			continue
		}
		removed, err := l.store.RemoveAssetByPath(ctx, asset.Path)
		if err != nil {
			return result, err
		}
		if removed {
			result.Dropped++
			l.logger.Warn("asset file missing, dropped from catalog",
				logging.String(logging.FieldAssetID, asset.ID),
				logging.String("path", asset.Path),
			)
		}
	}

	root := l.cfg.MediaRoot()
	if strings.TrimSpace(root) == "" {
		return result, nil
	}
	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() || !Playable(path) {
			return nil
		}
		if _, ok := known[path]; ok {
			return nil
		}
		if _, err := l.Register(ctx, path, "", ""); err != nil {
			return err
		}
		result.Registered++
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, fs.ErrNotExist) {
		return result, fmt.Errorf("walk media root: %w", walkErr)
	}
	return result, nil
}

func pathWithin(root, candidate string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
