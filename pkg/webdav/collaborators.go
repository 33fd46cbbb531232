package webdav

import (
	"context"
	"io"
	"net/http"

	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/cloudreve/davserver/pkg/resource"
)

type (
	// Indexer is the search-indexing sink.
	Indexer interface {
		Add(ctx context.Context, r resource.Resource)
		Remove(ctx context.Context, p string)
		// NotFound is told about every path answered with 404.
		NotFound(ctx context.Context, p string)
	}

	// DataObjects mirrors file existence into records for downstream systems.
	DataObjects interface {
		Created(ctx context.Context, r resource.Resource) error
		Updated(ctx context.Context, r resource.Resource) error
		Removed(ctx context.Context, p string) error
		Moved(ctx context.Context, src, dst string) error
	}

	// Sanitizer detects embedded script in HTML documents.
	Sanitizer interface {
		ContainsScript(r io.Reader) (bool, error)
	}

	// Directory resolves user names to display names.
	Directory interface {
		DisplayName(name string) string
	}

	// ErrorReporter receives internal failures.
	ErrorReporter interface {
		Report(ctx context.Context, err error, r *http.Request)
	}
)

type nopIndexer struct{}

func (nopIndexer) Add(ctx context.Context, r resource.Resource) {}
func (nopIndexer) Remove(ctx context.Context, p string) {}
func (nopIndexer) NotFound(ctx context.Context, p string) {}

type nopDataObjects struct{}

func (nopDataObjects) Created(ctx context.Context, r resource.Resource) error { return nil }
func (nopDataObjects) Updated(ctx context.Context, r resource.Resource) error { return nil }
func (nopDataObjects) Removed(ctx context.Context, p string) error { return nil }
func (nopDataObjects) Moved(ctx context.Context, src, dst string) error { return nil }

type plainDirectory struct{}

func (plainDirectory) DisplayName(name string) string { return name }

// LogReporter writes reported errors to the request logger.
type LogReporter struct{}

func (LogReporter) Report(ctx context.Context, err error, r *http.Request) {
	logging.FromContext(ctx).Error("Internal error on %s %s: %s", r.Method, r.URL.Path, err)
}

// notifier fans change events out to the sinks. Failures of the data-object sink are
// logged, never surfaced to the client.
type notifier struct {
	indexer Indexer
	objects DataObjects
	temp    *TempFiles
}

func (n *notifier) created(ctx context.Context, r resource.Resource) {
	if n.temp.Contains(r.Path()) {
		return
	}
	n.indexer.Add(ctx, r)
	if err := n.objects.Created(ctx, r); err != nil {
		logging.FromContext(ctx).Warning("Failed to register data object %q: %s", r.Path(), err)
	}
}

func (n *notifier) updated(ctx context.Context, r resource.Resource) {
	if n.temp.Contains(r.Path()) {
		return
	}
	n.indexer.Add(ctx, r)
	if err := n.objects.Updated(ctx, r); err != nil {
		logging.FromContext(ctx).Warning("Failed to update data object %q: %s", r.Path(), err)
	}
}

func (n *notifier) removed(ctx context.Context, p string) {
	if n.temp.Remove(p) {
		return
	}
	n.indexer.Remove(ctx, p)
	if err := n.objects.Removed(ctx, p); err != nil {
		logging.FromContext(ctx).Warning("Failed to remove data object %q: %s", p, err)
	}
}

func (n *notifier) moved(ctx context.Context, src string, dst resource.Resource) {
	if n.temp.Remove(src) {
		n.created(ctx, dst)
		return
	}
	n.indexer.Remove(ctx, src)
	n.indexer.Add(ctx, dst)
	if err := n.objects.Moved(ctx, src, dst.Path()); err != nil {
		logging.FromContext(ctx).Warning("Failed to move data object %q: %s", src, err)
	}
}
