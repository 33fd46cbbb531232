// Package memory implements resource.Store in memory.
package memory

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/cloudreve/davserver/pkg/auth"
	"github.com/cloudreve/davserver/pkg/hashid"
	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/cloudreve/davserver/pkg/util"
)

// Store keeps the whole tree in memory. No limits on size are enforced.
//
// The tree structure is protected by mu, file contents are replaced wholesale on
// each write so readers keep a consistent snapshot.
type Store struct {
	mu       sync.RWMutex
	root     *node
	policy   resource.Policy
	encoder  hashid.Encoder
	readOnly bool
}

type node struct {
	children map[string]*node
	data     []byte
	created  time.Time
	modified time.Time
	creator  string
	modifier string
	props    map[string]string
}

func (n *node) isDir() bool {
	return n.children != nil
}

// New creates an empty store.
func New(encoder hashid.Encoder, policy resource.Policy, readOnly bool) *Store {
	now := time.Now()
	return &Store{
		root: &node{
			children: make(map[string]*node),
			created:  now,
			modified: now,
			props:    make(map[string]string),
		},
		policy:   policy,
		encoder:  encoder,
		readOnly: readOnly,
	}
}

// walk follows fullname from the root and calls f with each directory and the next
// name fragment. Walking "/foo/bar/x" produces:
//   - root, "foo", false
//   - /foo, "bar", false
//   - /foo/bar, "x", true
func (s *Store) walk(fullname string, f func(dir *node, frag string, final bool) error) error {
	elements := util.SplitPath(fullname)
	dir := s.root
	if len(elements) == 0 {
		return f(dir, "", true)
	}

	for i, frag := range elements {
		final := i == len(elements)-1
		if err := f(dir, frag, final); err != nil {
			return err
		}
		if final {
			break
		}

		child := dir.children[frag]
		if child == nil {
			return resource.ErrNoParent
		}
		if !child.isDir() {
			return resource.ErrNoParent
		}
		dir = child
	}
	return nil
}

// find returns the parent of the named node and the name fragment from the parent
// to the child. Both are zero for the root.
func (s *Store) find(fullname string) (parent *node, frag string, err error) {
	err = s.walk(fullname, func(dir *node, frag0 string, final bool) error {
		if final && frag0 != "" {
			parent, frag = dir, frag0
		}
		return nil
	})
	return parent, frag, err
}

func (s *Store) lookup(p string) (*node, error) {
	parent, frag, err := s.find(p)
	if err != nil {
		return nil, resource.ErrNotFound
	}
	if parent == nil {
		return s.root, nil
	}
	n, ok := parent.children[frag]
	if !ok {
		return nil, resource.ErrNotFound
	}
	return n, nil
}

func (s *Store) entry(p string, n *node) *resource.Entry {
	e := &resource.Entry{
		EntryPath:  util.SlashClean(p),
		Collection: n.isDir(),
		Size:       int64(len(n.data)),
		CreatedAt:  n.created,
		ModifiedAt: n.modified,
		Creator:    n.creator,
		Modifier:   n.modifier,
		Props:      make(map[string]string, len(n.props)),
		Policy:     s.policy,
	}
	for k, v := range n.props {
		e.Props[k] = v
	}
	if e.Collection {
		e.Size = 0
	}
	e.Tag = hashid.ETag(s.encoder, e.Size, n.modified)
	return e
}

func (s *Store) Lookup(ctx context.Context, p string) (resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.lookup(p)
	if err != nil {
		return nil, err
	}
	return s.entry(p, n), nil
}

func (s *Store) Children(ctx context.Context, p string) ([]resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.lookup(p)
	if err != nil {
		return nil, err
	}
	if !n.isDir() {
		return nil, resource.ErrNotCollection
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	res := make([]resource.Resource, 0, len(names))
	for _, name := range names {
		res = append(res, s.entry(path.Join(util.SlashClean(p), name), n.children[name]))
	}
	return res, nil
}

type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }

func (s *Store) Open(ctx context.Context, p string) (io.ReadSeekCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.lookup(p)
	if err != nil {
		return nil, err
	}
	if n.isDir() {
		return nil, resource.ErrIsCollection
	}
	return readSeekNopCloser{bytes.NewReader(n.data)}, nil
}

func (s *Store) Write(ctx context.Context, p string, body io.Reader, opts resource.WriteOptions) (resource.Resource, bool, error) {
	if s.readOnly {
		return nil, false, resource.ErrReadOnly
	}

	// Read outside the tree lock, the body may be a slow network stream.
	content, err := io.ReadAll(body)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, frag, err := s.find(p)
	if err != nil {
		return nil, false, err
	}
	if parent == nil {
		return nil, false, resource.ErrIsCollection
	}

	who := ""
	if opts.Principal != nil {
		who = opts.Principal.Name
	}

	n, exists := parent.children[frag]
	created := !exists
	if exists && n.isDir() {
		return nil, false, resource.ErrIsCollection
	}
	if created {
		n = &node{created: time.Now(), creator: who, props: make(map[string]string)}
		parent.children[frag] = n
	}

	var data []byte
	if opts.Truncate || created {
		data = make([]byte, opts.Offset, opts.Offset+int64(len(content)))
	} else {
		data = make([]byte, len(n.data))
		copy(data, n.data)
		if int64(len(data)) < opts.Offset {
			data = append(data, make([]byte, opts.Offset-int64(len(data)))...)
		}
	}

	end := opts.Offset + int64(len(content))
	if int64(len(data)) < end {
		data = append(data, make([]byte, end-int64(len(data)))...)
	}
	copy(data[opts.Offset:end], content)

	n.data = data
	n.modifier = who
	n.modified = nextModTime(n.modified)
	parent.modified = nextModTime(parent.modified)

	return s.entry(p, n), created, nil
}

// nextModTime returns now, strictly after prev so every change yields a new ETag.
func nextModTime(prev time.Time) time.Time {
	now := time.Now()
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}

func (s *Store) Mkdir(ctx context.Context, p string, principal *auth.Principal) (resource.Resource, error) {
	if s.readOnly {
		return nil, resource.ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, frag, err := s.find(p)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, resource.ErrExist
	}
	if _, ok := parent.children[frag]; ok {
		return nil, resource.ErrExist
	}

	who := ""
	if principal != nil {
		who = principal.Name
	}

	now := time.Now()
	n := &node{
		children: make(map[string]*node),
		created:  now,
		modified: now,
		creator:  who,
		modifier: who,
		props:    make(map[string]string),
	}
	parent.children[frag] = n
	parent.modified = nextModTime(parent.modified)
	return s.entry(p, n), nil
}

func (s *Store) Remove(ctx context.Context, p string) error {
	if s.readOnly {
		return resource.ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, frag, err := s.find(p)
	if err != nil {
		return resource.ErrNotFound
	}
	if parent == nil {
		return resource.ErrInvalidPath
	}

	n, ok := parent.children[frag]
	if !ok {
		return resource.ErrNotFound
	}
	if n.isDir() && len(n.children) > 0 {
		return resource.ErrNotEmpty
	}

	delete(parent.children, frag)
	parent.modified = nextModTime(parent.modified)
	return nil
}

func (s *Store) PatchProperties(ctx context.Context, p string, set map[string]string, remove []string) error {
	if s.readOnly {
		return resource.ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.lookup(p)
	if err != nil {
		return err
	}
	for _, k := range remove {
		delete(n.props, k)
	}
	for k, v := range set {
		n.props[k] = v
	}
	return nil
}

func (s *Store) ReadOnly() bool {
	return s.readOnly
}
