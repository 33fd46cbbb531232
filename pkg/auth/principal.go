package auth

import (
	"context"

	"github.com/cloudreve/davserver/pkg/util"
)

// Principal is the acting identity of a request.
type Principal struct {
	Name        string
	DisplayName string
	Guest       bool
	// Trusted principals may store HTML containing script.
	Trusted bool
	// Root is the subtree this principal is confined to.
	Root string
}

type principalCtx struct{}

// Guest returns the anonymous principal.
func Guest() *Principal {
	return &Principal{
		Name:        "guest",
		DisplayName: "Guest",
		Guest:       true,
		Root:        "/",
	}
}

// CanAccess reports whether p lies within the principal's permitted root.
func (p *Principal) CanAccess(path string) bool {
	root := p.Root
	if root == "" {
		root = "/"
	}
	return util.IsDescendant(root, path)
}

// CanTraverse reports whether path is a collection on the way down to the
// principal's root.
func (p *Principal) CanTraverse(path string) bool {
	if p.Root == "" || p.Root == "/" {
		return true
	}
	return util.IsDescendant(path, p.Root)
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtx{}, p)
}

// PrincipalFromContext returns the principal stored in ctx, or a guest.
func PrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalCtx{}).(*Principal); ok && p != nil {
		return p
	}
	return Guest()
}
