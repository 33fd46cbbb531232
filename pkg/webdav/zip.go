package webdav

import (
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cloudreve/davserver/pkg/lock"
	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/mholt/archiver/v4"
)

// resourceInfo adapts a resource to fs.FileInfo for the archiver.
type resourceInfo struct {
	res resource.Resource
}

func (i resourceInfo) Name() string       { return i.res.Name() }
func (i resourceInfo) Size() int64        { return i.res.ContentLength() }
func (i resourceInfo) ModTime() time.Time { return i.res.Modified() }
func (i resourceInfo) IsDir() bool        { return i.res.IsCollection() }
func (i resourceInfo) Sys() interface{}   { return nil }

func (i resourceInfo) Mode() fs.FileMode {
	if i.res.IsCollection() {
		return fs.ModeDir | 0755
	}
	return 0644
}

// handleZip streams the addressed tree as a zip archive. Query parameters:
// name is the archive file name, depth limits the walk (-1 for unbounded) and
// file selects immediate children of a collection.
func (h *Handler) handleZip(req *request) (int, error) {
	root, err := req.target()
	if err != nil {
		return 0, err
	}
	if !root.CanRead(req.principal, false) {
		return 0, req.deny(req.path)
	}

	query := req.r.URL.Query()
	depth := lock.MaxDepth
	if v := query.Get("depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < -1 {
			return http.StatusBadRequest, newDavError(http.StatusBadRequest, req.path, errInvalidDepth)
		}
		if d >= 0 && d < depth {
			depth = d
		}
	}

	var files []archiver.File
	if root.IsFile() {
		files = append(files, h.zipEntry(req, root, root.Name()))
	} else {
		selected, err := h.zipSelection(req, root, query["file"])
		if err != nil {
			return 0, err
		}
		for _, child := range selected {
			files = h.zipWalk(req, child, child.Name(), depth, files)
		}
	}

	name := query.Get("name")
	if name == "" {
		name = root.Name()
		if name == "" {
			name = h.cfg.MountName
		}
		if name == "" {
			name = "archive"
		}
	}
	if !strings.HasSuffix(strings.ToLower(name), ".zip") {
		name += ".zip"
	}

	req.resp.Header().Set("Content-Type", "application/zip")
	req.resp.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(name)))
	req.resp.WriteHeader(http.StatusOK)

	z := archiver.Zip{SelectiveCompression: true, ContinueOnError: true}
	if err := z.Archive(req.ctx, req.resp, files); err != nil {
		req.l.Warning("Failed to write zip archive of %q: %s", req.path, err)
	}
	return 0, nil
}

// zipSelection returns the children of root to archive, all readable children
// when names is empty.
func (h *Handler) zipSelection(req *request, root resource.Resource, names []string) ([]resource.Resource, error) {
	if len(names) == 0 {
		if !root.CanList(req.principal, false) {
			return nil, req.deny(root.Path())
		}
		return req.cache.children(req.ctx, root.Path())
	}

	res := make([]resource.Resource, 0, len(names))
	for _, n := range names {
		if n == "" || strings.Contains(n, "/") || n == "." || n == ".." {
			continue
		}
		child, err := req.lookup(path.Join(root.Path(), n))
		if err != nil {
			continue
		}
		res = append(res, child)
	}
	return res, nil
}

func (h *Handler) zipWalk(req *request, res resource.Resource, name string, depth int, files []archiver.File) []archiver.File {
	if !res.CanRead(req.principal, false) || h.temp.Contains(res.Path()) {
		return files
	}
	if res.IsFile() {
		return append(files, h.zipEntry(req, res, name))
	}

	files = append(files, h.zipEntry(req, res, name))
	if depth == 0 || !res.CanList(req.principal, false) {
		return files
	}

	children, err := req.cache.children(req.ctx, res.Path())
	if err != nil {
		req.l.Debug("Failed to list %q for zip: %s", res.Path(), err)
		return files
	}
	for _, child := range children {
		files = h.zipWalk(req, child, path.Join(name, child.Name()), depth-1, files)
	}
	return files
}

func (h *Handler) zipEntry(req *request, res resource.Resource, name string) archiver.File {
	f := archiver.File{
		FileInfo:      resourceInfo{res: res},
		NameInArchive: name,
	}
	if res.IsFile() {
		p := res.Path()
		f.Open = func() (io.ReadCloser, error) {
			rc, err := h.store.Open(req.ctx, p)
			if err != nil {
				return nil, err
			}
			return withSpeedLimit(rc, h.cfg.SpeedLimit), nil
		}
	}
	return f
}
