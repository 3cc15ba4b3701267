// Package detector implements the reconciliation algorithm: given observed
// filesystem state, it decides which documents must be created, updated,
// or deleted in the remote store.
package detector

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/hashcache"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/store"
	"github.com/hyperjump/kagami/pkg/utils"
)

// Detector resolves per-path operations. The remote store is the authority
// for existence and identity; the hash cache only short-circuits redundant
// work and is never trusted for a Create or Delete decision.
type Detector struct {
	store       store.Store
	cache       *hashcache.Cache
	extensions  []string
	excludeDirs []string
	logger      *zap.Logger // optional; when set, logs resolution decisions
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// New creates a detector using watch's eligibility rules.
func New(s store.Store, cache *hashcache.Cache, watch *config.WatchConfig, opts ...Option) *Detector {
	d := &Detector{
		store:       s,
		cache:       cache,
		extensions:  watch.Extensions,
		excludeDirs: watch.ExcludeDirs,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Eligible reports whether path should be processed at all: its extension
// must be in the allow-list and no path segment may match an excluded
// folder name. Ineligible paths are filtered before any hash work.
func (d *Detector) Eligible(path string) bool {
	for _, seg := range strings.Split(filepath.Clean(path), string(filepath.Separator)) {
		for _, excluded := range d.excludeDirs {
			if seg == excluded {
				return false
			}
		}
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range d.extensions {
		if strings.TrimPrefix(ext, ".") == strings.TrimPrefix(strings.ToLower(allowed), ".") {
			return true
		}
	}
	return false
}

// ResolvePath decides the operation for a single path, re-checking disk
// and (except for a cache-confirmed no-op) the remote store. Ineligible
// paths resolve to no-op. A file that exists but cannot be hashed is
// treated as absent.
func (d *Detector) ResolvePath(ctx context.Context, path string) (models.Operation, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.Operation{Kind: models.OpNone, Path: path}, err
	}
	if !d.Eligible(abs) {
		return models.Operation{Kind: models.OpNone, Path: abs}, nil
	}

	rec, onDisk := d.scanFile(abs)
	if !onDisk {
		// Deletion is only issued when the store actually has the path.
		doc, err := d.store.FindByPath(ctx, abs)
		if err != nil {
			return models.Operation{Kind: models.OpNone, Path: abs}, err
		}
		if doc == nil {
			return models.Operation{Kind: models.OpNone, Path: abs}, nil
		}
		return models.Operation{Kind: models.OpDelete, Path: abs, ExistingID: doc.ID}, nil
	}

	// Cache short-circuit: an entry is written only after a confirmed
	// mutation, so an equal hash means the store already has this state.
	if cached, ok := d.cache.Get(abs); ok && cached == rec.ContentHash {
		d.debug("cache hit, no-op", abs)
		return models.Operation{Kind: models.OpNone, Path: abs, ContentHash: rec.ContentHash}, nil
	}

	doc, err := d.store.FindByPath(ctx, abs)
	if err != nil {
		return models.Operation{Kind: models.OpNone, Path: abs}, err
	}
	switch {
	case doc == nil:
		return models.Operation{Kind: models.OpCreate, Path: abs, ContentHash: rec.ContentHash}, nil
	case doc.Metadata.FileHash != rec.ContentHash:
		return models.Operation{Kind: models.OpUpdate, Path: abs, ExistingID: doc.ID, ContentHash: rec.ContentHash}, nil
	default:
		// Store already matches; refresh the cache so the next event for
		// this path short-circuits.
		d.cache.Set(abs, rec.ContentHash)
		return models.Operation{Kind: models.OpNone, Path: abs, ContentHash: rec.ContentHash}, nil
	}
}

// PlanFullPass computes the operations for a full reconciliation of root:
// every eligible file on disk is compared against the store's listing, and
// every stored path missing from disk becomes a Delete. Returned operations
// are actionable only (no-ops are filtered); creates and updates come in
// walk order, deletes after them in sorted order.
func (d *Detector) PlanFullPass(ctx context.Context, root string) ([]models.Operation, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	remote, err := d.store.ListPathHashes(ctx)
	if err != nil {
		return nil, err
	}

	var ops []models.Operation
	seen := make(map[string]bool)
	walkErr := filepath.WalkDir(absRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree: skip it; deletion of its documents is
			// deliberately NOT inferred from a read failure.
			for remotePath := range remote {
				if strings.HasPrefix(remotePath, path+string(filepath.Separator)) || remotePath == path {
					seen[remotePath] = true
				}
			}
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if d.excludedDir(entry.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Eligible(path) {
			return nil
		}
		rec, onDisk := d.scanFile(path)
		if !onDisk {
			return nil
		}
		seen[path] = true
		remoteHash, exists := remote[path]
		switch {
		case !exists:
			ops = append(ops, models.Operation{Kind: models.OpCreate, Path: path, ContentHash: rec.ContentHash})
		case remoteHash != rec.ContentHash:
			ops = append(ops, models.Operation{Kind: models.OpUpdate, Path: path, ContentHash: rec.ContentHash})
		default:
			d.cache.Set(path, rec.ContentHash)
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	var stale []string
	for remotePath := range remote {
		if !seen[remotePath] {
			stale = append(stale, remotePath)
		}
	}
	sort.Strings(stale)
	for _, p := range stale {
		ops = append(ops, models.Operation{Kind: models.OpDelete, Path: p})
	}
	return ops, nil
}

// scanFile builds the ephemeral local record for path. A stat or read
// failure reports the file as absent, per the file-unreadable policy.
func (d *Detector) scanFile(path string) (*models.FileRecord, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}
	hash, err := utils.HashFile(path)
	if err != nil {
		d.debug("hash failed, treating as absent", path)
		return nil, false
	}
	return &models.FileRecord{
		Path:        path,
		ContentHash: hash,
		Size:        info.Size(),
		ModifiedAt:  info.ModTime(),
	}, true
}

func (d *Detector) excludedDir(name string) bool {
	for _, excluded := range d.excludeDirs {
		if name == excluded {
			return true
		}
	}
	return false
}

func (d *Detector) debug(msg, path string) {
	if d.logger != nil {
		d.logger.Debug("detector "+msg, zap.String("path", path))
	}
}
