// Package indexer keeps a lightweight search index of the resource tree in the
// KV cache, together with hit counters for paths that were requested but missing.
package indexer

import (
	"context"
	"encoding/gob"
	"strings"
	"sync"
	"time"

	"github.com/cloudreve/davserver/pkg/cache"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/cloudreve/davserver/pkg/resource"
)

const (
	IndexPrefix  = "idx_"
	BrokenPrefix = "broken_"
)

func init() {
	gob.Register(Entry{})
}

// Entry is the indexed summary of a resource.
type Entry struct {
	Path        string
	Name        string
	Collection  bool
	ContentType string
	Size        int64
	ETag        string
	Modified    time.Time
}

// KVIndexer stores index entries in a cache.Driver.
type KVIndexer struct {
	kv cache.Driver
	l  logging.Logger
	// 保护 broken 计数的读改写
	mu sync.Mutex
}

// NewKVIndexer creates an indexer on top of kv.
func NewKVIndexer(kv cache.Driver, l logging.Logger) *KVIndexer {
	return &KVIndexer{kv: kv, l: l}
}

// Add indexes r. A broken-link record for the same path is cleared.
func (i *KVIndexer) Add(ctx context.Context, r resource.Resource) {
	entry := Entry{
		Path:        r.Path(),
		Name:        r.Name(),
		Collection:  r.IsCollection(),
		ContentType: r.ContentType(),
		Size:        r.ContentLength(),
		ETag:        r.ETag(),
		Modified:    r.Modified(),
	}

	if err := i.kv.Set(IndexPrefix+entry.Path, entry, 0); err != nil {
		logging.FromContext(ctx).Warning("Failed to index %q: %s", entry.Path, err)
	}
	_ = i.kv.Delete(BrokenPrefix, entry.Path)
}

// Remove drops p and everything under it from the index.
func (i *KVIndexer) Remove(ctx context.Context, p string) {
	if err := i.kv.Delete(IndexPrefix, p); err != nil {
		logging.FromContext(ctx).Warning("Failed to remove %q from index: %s", p, err)
	}

	prefix := strings.TrimSuffix(p, "/") + "/"
	if err := i.kv.Delete(IndexPrefix + prefix); err != nil {
		logging.FromContext(ctx).Warning("Failed to remove children of %q from index: %s", p, err)
	}
}

// NotFound records a request for a missing path.
func (i *KVIndexer) NotFound(ctx context.Context, p string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	hits := 0
	if v, ok := i.kv.Get(BrokenPrefix + p); ok {
		hits, _ = v.(int)
	}

	logging.FromContext(ctx).Debug("Broken link hit on %q.", p)
	if err := i.kv.Set(BrokenPrefix+p, hits+1, 0); err != nil {
		logging.FromContext(ctx).Warning("Failed to record broken link %q: %s", p, err)
	}
}

// Lookup returns the indexed entry of p.
func (i *KVIndexer) Lookup(p string) (*Entry, bool) {
	v, ok := i.kv.Get(IndexPrefix + p)
	if !ok {
		return nil, false
	}
	entry, ok := v.(Entry)
	if !ok {
		return nil, false
	}
	return &entry, true
}

// BrokenHits returns how many times p was requested while missing.
func (i *KVIndexer) BrokenHits(p string) int {
	v, ok := i.kv.Get(BrokenPrefix + p)
	if !ok {
		return 0
	}
	hits, _ := v.(int)
	return hits
}
