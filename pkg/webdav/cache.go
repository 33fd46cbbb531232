package webdav

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudreve/davserver/pkg/resource"
)

// lookupState tells a cached absence apart from a path never asked for.
type lookupState int

const (
	notQueried lookupState = iota
	found
	absent
)

type cacheEntry struct {
	state lookupState
	res   resource.Resource
}

// resourceCache memoizes store lookups for the lifetime of one request.
type resourceCache struct {
	store   resource.Store
	entries map[string]cacheEntry
}

func newResourceCache(store resource.Store) *resourceCache {
	return &resourceCache{store: store, entries: make(map[string]cacheEntry)}
}

func (c *resourceCache) state(p string) lookupState {
	return c.entries[p].state
}

// get returns resource.ErrNotFound for confirmed absence.
func (c *resourceCache) get(ctx context.Context, p string) (resource.Resource, error) {
	switch e := c.entries[p]; e.state {
	case found:
		return e.res, nil
	case absent:
		return nil, resource.ErrNotFound
	}

	res, err := c.store.Lookup(ctx, p)
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			c.entries[p] = cacheEntry{state: absent}
		}
		return nil, err
	}

	c.entries[p] = cacheEntry{state: found, res: res}
	return res, nil
}

// children lists p and remembers every child returned.
func (c *resourceCache) children(ctx context.Context, p string) ([]resource.Resource, error) {
	children, err := c.store.Children(ctx, p)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		c.entries[child.Path()] = cacheEntry{state: found, res: child}
	}
	return children, nil
}

// put records r after a mutation.
func (c *resourceCache) put(r resource.Resource) {
	c.entries[r.Path()] = cacheEntry{state: found, res: r}
}

// forget drops p and everything below it.
func (c *resourceCache) forget(p string) {
	prefix := strings.TrimSuffix(p, "/") + "/"
	for k := range c.entries {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}
