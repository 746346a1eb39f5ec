// Package localdir implements an ingestion source over a local directory
// tree of image files.
package localdir

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pcheng/pixsearch/internal/source"
)

const SourceID = "localdir"

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Adapter implements the Source interface for a local directory.
type Adapter struct {
	root   string
	items  []source.ImageItem
	loaded bool
}

// NewAdapter creates a new local-directory adapter rooted at root.
func NewAdapter(root string) *Adapter {
	return &Adapter{root: root}
}

// GetSourceID returns the stable identifier for this source.
func (a *Adapter) GetSourceID() string {
	return SourceID
}

// FetchBatch fetches a batch of image items. The directory is walked once
// on first call and paginated from the cached listing.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.ImageItem, string, error) {
	if !a.loaded {
		if err := a.loadItems(); err != nil {
			return nil, "", fmt.Errorf("failed to list directory %s: %w", a.root, err)
		}
		a.loaded = true
	}

	start := 0
	if cursor != "" {
		idx, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		start = idx
	}
	if start >= len(a.items) {
		return nil, "", nil
	}

	end := start + limit
	if end > len(a.items) {
		end = len(a.items)
	}

	next := ""
	if end < len(a.items) {
		next = strconv.Itoa(end)
	}
	return a.items[start:end], next, nil
}

func (a *Adapter) loadItems() error {
	var items []source.ImageItem
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !imageExtensions[ext] {
			return nil
		}
		rel, err := filepath.Rel(a.root, path)
		if err != nil {
			rel = path
		}
		items = append(items, source.ImageItem{
			SourceID: rel,
			Path:     path,
			Format:   strings.TrimPrefix(ext, "."),
		})
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(items, func(i, j int) bool { return items[i].SourceID < items[j].SourceID })
	a.items = items
	return nil
}
