package webdav

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/cloudreve/davserver/pkg/util"
)

// TempFiles is the process-wide set of paths created with "Temporary: T". Those
// resources stay out of indexing and listings and are deleted on shutdown.
type TempFiles struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func NewTempFiles() *TempFiles {
	return &TempFiles{paths: make(map[string]struct{})}
}

func (t *TempFiles) Add(p string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paths[util.SlashClean(p)] = struct{}{}
}

// Remove unmarks p and reports whether it was marked.
func (t *TempFiles) Remove(p string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p = util.SlashClean(p)
	_, ok := t.paths[p]
	delete(t.paths, p)
	return ok
}

func (t *TempFiles) Contains(p string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.paths[util.SlashClean(p)]
	return ok
}

// Relocate re-keys the markers strictly below src to the same place below dst.
// The mark of src itself is left alone.
func (t *TempFiles) Relocate(src, dst string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	src, dst = util.SlashClean(src), util.SlashClean(dst)
	var moved []string
	for p := range t.paths {
		if p != src && util.IsDescendant(src, p) {
			moved = append(moved, p)
		}
	}
	for _, p := range moved {
		delete(t.paths, p)
		t.paths[path.Join(dst, strings.TrimPrefix(p, src))] = struct{}{}
	}
}

// Paths returns the marked paths in order.
func (t *TempFiles) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := make([]string, 0, len(t.paths))
	for p := range t.paths {
		res = append(res, p)
	}
	sort.Strings(res)
	return res
}

// Sweep deletes every marked resource from store and empties the set. It returns
// how many were deleted.
func (t *TempFiles) Sweep(ctx context.Context, store resource.Store) int {
	l := logging.FromContext(ctx)
	deleted := 0
	for _, p := range t.Paths() {
		if err := store.Remove(ctx, p); err != nil {
			l.Warning("Failed to delete temporary file %q: %s", p, err)
		} else {
			deleted++
		}
		t.Remove(p)
	}
	return deleted
}
