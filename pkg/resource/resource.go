// Package resource defines the hierarchical resource tree the WebDAV engine drives.
package resource

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/cloudreve/davserver/pkg/auth"
)

var (
	ErrNotFound      = errors.New("resource: not found")
	ErrExist         = errors.New("resource: already exists")
	ErrNoParent      = errors.New("resource: parent collection does not exist")
	ErrIsCollection  = errors.New("resource: target is a collection")
	ErrNotCollection = errors.New("resource: target is not a collection")
	ErrNotEmpty      = errors.New("resource: collection is not empty")
	ErrReadOnly      = errors.New("resource: store is read-only")
	ErrInvalidPath   = errors.New("resource: invalid path")
)

// Resource is a read-only snapshot of a node in the tree.
type Resource interface {
	// Path is slash separated and rooted, without a trailing slash except for the root.
	Path() string
	Name() string
	Exists() bool
	IsCollection() bool
	IsFile() bool
	ContentLength() int64
	ContentType() string
	ETag() string
	Created() time.Time
	Modified() time.Time
	CreatedBy() string
	ModifiedBy() string
	// Properties holds dead properties keyed by Clark notation ("{ns}local") with
	// their raw inner XML as value.
	Properties() map[string]string

	CanRead(p *auth.Principal, deep bool) bool
	CanWrite(p *auth.Principal, deep bool) bool
	CanCreate(p *auth.Principal, deep bool) bool
	CanDelete(p *auth.Principal, deep bool) bool
	CanList(p *auth.Principal, deep bool) bool
}

// WriteOptions controls Store.Write.
type WriteOptions struct {
	// Offset is where the body is written. Content beyond the written range is
	// kept unless Truncate is set.
	Offset    int64
	Truncate  bool
	Principal *auth.Principal
}

// Store is the backing storage behind resources.
type Store interface {
	// Lookup returns ErrNotFound when nothing lives at p.
	Lookup(ctx context.Context, p string) (Resource, error)
	// Children lists the immediate children of a collection sorted by name.
	Children(ctx context.Context, p string) ([]Resource, error)
	Open(ctx context.Context, p string) (io.ReadSeekCloser, error)
	// Write creates or updates the file at p. created reports whether the file did
	// not exist before.
	Write(ctx context.Context, p string, body io.Reader, opts WriteOptions) (res Resource, created bool, err error)
	Mkdir(ctx context.Context, p string, principal *auth.Principal) (Resource, error)
	// Remove deletes a file or an empty collection.
	Remove(ctx context.Context, p string) error
	PatchProperties(ctx context.Context, p string, set map[string]string, remove []string) error
	ReadOnly() bool
}

// FileBacked is implemented by resources stored as plain files on the local disk.
type FileBacked interface {
	LocalPath() string
}

// Relocator is implemented by stores that keep side metadata keyed by path and need
// to be told when a file was renamed behind their back.
type Relocator interface {
	Relocated(ctx context.Context, src, dst string) error
}

// LocalPath returns the on-disk location of r, if any.
func LocalPath(r Resource) (string, bool) {
	if fb, ok := r.(FileBacked); ok && fb.LocalPath() != "" {
		return fb.LocalPath(), true
	}
	return "", false
}

// TypeByName guesses the content type from a file name.
func TypeByName(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// IsHTML reports whether the content type denotes an HTML document.
func IsHTML(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html")
}

// Entry is a plain Resource implementation shared by the bundled stores.
type Entry struct {
	EntryPath  string
	Collection bool
	Size       int64
	MimeType   string
	Tag        string
	CreatedAt  time.Time
	ModifiedAt time.Time
	Creator    string
	Modifier   string
	Props      map[string]string
	Local      string
	Policy     Policy
}

func (e *Entry) Path() string {
	return e.EntryPath
}

func (e *Entry) Name() string {
	if e.EntryPath == "/" {
		return ""
	}
	return path.Base(e.EntryPath)
}

func (e *Entry) Exists() bool {
	return true
}

func (e *Entry) IsCollection() bool {
	return e.Collection
}

func (e *Entry) IsFile() bool {
	return !e.Collection
}

func (e *Entry) ContentLength() int64 {
	return e.Size
}

func (e *Entry) ContentType() string {
	if e.Collection {
		return "httpd/unix-directory"
	}
	if e.MimeType == "" {
		return TypeByName(e.EntryPath)
	}
	return e.MimeType
}

func (e *Entry) ETag() string {
	return e.Tag
}

func (e *Entry) Created() time.Time {
	return e.CreatedAt
}

func (e *Entry) Modified() time.Time {
	return e.ModifiedAt
}

func (e *Entry) CreatedBy() string {
	return e.Creator
}

func (e *Entry) ModifiedBy() string {
	return e.Modifier
}

func (e *Entry) Properties() map[string]string {
	return e.Props
}

func (e *Entry) LocalPath() string {
	return e.Local
}

func (e *Entry) CanRead(p *auth.Principal, deep bool) bool {
	return e.allow(p, PermRead, deep)
}

func (e *Entry) CanWrite(p *auth.Principal, deep bool) bool {
	return e.allow(p, PermWrite, deep)
}

func (e *Entry) CanCreate(p *auth.Principal, deep bool) bool {
	return e.Collection && e.allow(p, PermCreate, deep)
}

func (e *Entry) CanDelete(p *auth.Principal, deep bool) bool {
	return e.EntryPath != "/" && e.allow(p, PermDelete, deep)
}

func (e *Entry) CanList(p *auth.Principal, deep bool) bool {
	return e.Collection && e.allow(p, PermList, deep)
}

func (e *Entry) allow(p *auth.Principal, perm Permission, deep bool) bool {
	if e.Policy == nil {
		return true
	}
	return e.Policy.Allow(p, e.EntryPath, perm, deep)
}
