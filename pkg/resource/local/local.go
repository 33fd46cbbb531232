// Package local implements resource.Store on top of a directory on disk.
package local

import (
	"context"
	"encoding/gob"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/cloudreve/davserver/pkg/auth"
	"github.com/cloudreve/davserver/pkg/cache"
	"github.com/cloudreve/davserver/pkg/hashid"
	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/cloudreve/davserver/pkg/util"
	"github.com/pkg/errors"
)

const metaPrefix = "dav_prop_"

func init() {
	gob.Register(meta{})
}

// meta is side information the file system cannot hold.
type meta struct {
	Props    map[string]string
	Creator  string
	Modifier string
}

// Store maps resource paths below Root.
type Store struct {
	root     string
	kv       cache.Driver
	policy   resource.Policy
	encoder  hashid.Encoder
	readOnly bool
}

// New creates a Store rooted at dir, creating it when missing.
func New(dir string, kv cache.Driver, encoder hashid.Encoder, policy resource.Policy, readOnly bool) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve storage root")
	}

	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, errors.Wrapf(err, "failed to create storage root %q", abs)
	}

	return &Store{
		root:     abs,
		kv:       kv,
		policy:   policy,
		encoder:  encoder,
		readOnly: readOnly,
	}, nil
}

func (s *Store) resolve(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(util.SlashClean(p)))
}

func (s *Store) meta(p string) meta {
	if v, ok := s.kv.Get(metaPrefix + util.SlashClean(p)); ok {
		if m, ok := v.(meta); ok {
			return m
		}
	}
	return meta{}
}

func (s *Store) saveMeta(p string, m meta) error {
	return s.kv.Set(metaPrefix+util.SlashClean(p), m, 0)
}

func (s *Store) entry(p string, info os.FileInfo) *resource.Entry {
	m := s.meta(p)
	e := &resource.Entry{
		EntryPath:  util.SlashClean(p),
		Collection: info.IsDir(),
		Size:       info.Size(),
		CreatedAt:  info.ModTime(),
		ModifiedAt: info.ModTime(),
		Creator:    m.Creator,
		Modifier:   m.Modifier,
		Props:      make(map[string]string, len(m.Props)),
		Local:      s.resolve(p),
		Policy:     s.policy,
	}
	for k, v := range m.Props {
		e.Props[k] = v
	}
	if e.Collection {
		e.Size = 0
	}
	e.Tag = hashid.ETag(s.encoder, e.Size, info.ModTime())
	return e
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return resource.ErrNotFound
	case os.IsExist(err):
		return resource.ErrExist
	}
	return err
}

func (s *Store) Lookup(ctx context.Context, p string) (resource.Resource, error) {
	info, err := os.Stat(s.resolve(p))
	if err != nil {
		return nil, translate(err)
	}
	return s.entry(p, info), nil
}

func (s *Store) Children(ctx context.Context, p string) ([]resource.Resource, error) {
	dir := s.resolve(p)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, translate(err)
	}
	if !info.IsDir() {
		return nil, resource.ErrNotCollection
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %q", p)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	res := make([]resource.Resource, 0, len(entries))
	for _, child := range entries {
		info, err := child.Info()
		if err != nil {
			// removed while listing
			continue
		}
		res = append(res, s.entry(path.Join(util.SlashClean(p), child.Name()), info))
	}
	return res, nil
}

func (s *Store) Open(ctx context.Context, p string) (io.ReadSeekCloser, error) {
	f, err := os.Open(s.resolve(p))
	if err != nil {
		return nil, translate(err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to stat %q", p)
	}
	if info.IsDir() {
		f.Close()
		return nil, resource.ErrIsCollection
	}
	return f, nil
}

func (s *Store) checkParent(p string) error {
	info, err := os.Stat(filepath.Dir(s.resolve(p)))
	if err != nil || !info.IsDir() {
		return resource.ErrNoParent
	}
	return nil
}

func (s *Store) Write(ctx context.Context, p string, body io.Reader, opts resource.WriteOptions) (resource.Resource, bool, error) {
	if s.readOnly {
		return nil, false, resource.ErrReadOnly
	}
	if util.SlashClean(p) == "/" {
		return nil, false, resource.ErrIsCollection
	}
	if err := s.checkParent(p); err != nil {
		return nil, false, err
	}

	dst := s.resolve(p)
	info, err := os.Stat(dst)
	created := os.IsNotExist(err)
	if err == nil && info.IsDir() {
		return nil, false, resource.ErrIsCollection
	}

	flag := os.O_CREATE | os.O_WRONLY
	if opts.Truncate {
		flag |= os.O_TRUNC
	}

	f, err := os.OpenFile(dst, flag, 0600)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to open %q for writing", p)
	}

	if opts.Offset > 0 {
		if _, err := f.Seek(opts.Offset, io.SeekStart); err != nil {
			f.Close()
			return nil, false, errors.Wrap(err, "failed to seek")
		}
	}

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return nil, false, errors.Wrapf(err, "failed to write %q", p)
	}

	if err := f.Close(); err != nil {
		return nil, false, errors.Wrapf(err, "failed to close %q", p)
	}

	who := ""
	if opts.Principal != nil {
		who = opts.Principal.Name
	}

	m := s.meta(p)
	if created {
		m = meta{Creator: who}
	}
	m.Modifier = who
	if err := s.saveMeta(p, m); err != nil {
		return nil, false, errors.Wrap(err, "failed to save metadata")
	}

	res, err := s.Lookup(ctx, p)
	return res, created, err
}

func (s *Store) Mkdir(ctx context.Context, p string, principal *auth.Principal) (resource.Resource, error) {
	if s.readOnly {
		return nil, resource.ErrReadOnly
	}
	if util.SlashClean(p) == "/" {
		return nil, resource.ErrExist
	}
	if err := s.checkParent(p); err != nil {
		return nil, err
	}

	if err := os.Mkdir(s.resolve(p), 0700); err != nil {
		return nil, translate(err)
	}

	if principal != nil {
		if err := s.saveMeta(p, meta{Creator: principal.Name, Modifier: principal.Name}); err != nil {
			return nil, errors.Wrap(err, "failed to save metadata")
		}
	}

	return s.Lookup(ctx, p)
}

func (s *Store) Remove(ctx context.Context, p string) error {
	if s.readOnly {
		return resource.ErrReadOnly
	}
	if util.SlashClean(p) == "/" {
		return resource.ErrInvalidPath
	}

	target := s.resolve(p)
	info, err := os.Stat(target)
	if err != nil {
		return translate(err)
	}

	if info.IsDir() {
		empty, err := isEmpty(target)
		if err != nil {
			return errors.Wrapf(err, "failed to inspect %q", p)
		}
		if !empty {
			return resource.ErrNotEmpty
		}
	}

	if err := os.Remove(target); err != nil {
		return translate(err)
	}

	return s.kv.Delete(metaPrefix, util.SlashClean(p))
}

func isEmpty(name string) (bool, error) {
	f, err := os.Open(name)
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

func (s *Store) PatchProperties(ctx context.Context, p string, set map[string]string, remove []string) error {
	if s.readOnly {
		return resource.ErrReadOnly
	}
	if _, err := os.Stat(s.resolve(p)); err != nil {
		return translate(err)
	}

	m := s.meta(p)
	props := make(map[string]string, len(m.Props)+len(set))
	for k, v := range m.Props {
		props[k] = v
	}
	for _, k := range remove {
		delete(props, k)
	}
	for k, v := range set {
		props[k] = v
	}
	m.Props = props
	return s.saveMeta(p, m)
}

// Relocated moves side metadata after a rename on disk.
func (s *Store) Relocated(ctx context.Context, src, dst string) error {
	m := s.meta(src)
	if err := s.kv.Delete(metaPrefix, util.SlashClean(src)); err != nil {
		return err
	}
	return s.saveMeta(dst, m)
}

func (s *Store) ReadOnly() bool {
	return s.readOnly
}
