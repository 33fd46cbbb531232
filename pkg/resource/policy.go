package resource

import (
	"path"
	"strings"

	"github.com/cloudreve/davserver/pkg/auth"
)

type Permission int

const (
	PermRead Permission = iota
	PermWrite
	PermCreate
	PermDelete
	PermList
)

func (p Permission) String() string {
	switch p {
	case PermRead:
		return "read"
	case PermWrite:
		return "write"
	case PermCreate:
		return "create"
	case PermDelete:
		return "delete"
	case PermList:
		return "list"
	}
	return "unknown"
}

// Policy decides what a principal may do with a path.
type Policy interface {
	Allow(p *auth.Principal, target string, perm Permission, deep bool) bool
}

// DefaultPolicy lets everyone read and list, and authenticated principals mutate.
// Dot-files are hidden from guests. A read-only policy denies every mutation.
type DefaultPolicy struct {
	ReadOnly bool
}

func (d DefaultPolicy) Allow(p *auth.Principal, target string, perm Permission, deep bool) bool {
	if p == nil {
		p = auth.Guest()
	}

	if !p.CanAccess(target) && !p.CanTraverse(target) {
		return false
	}

	if p.Guest && strings.HasPrefix(path.Base(target), ".") {
		return false
	}

	switch perm {
	case PermRead, PermList:
		return true
	default:
		return !d.ReadOnly && !p.Guest && p.CanAccess(target)
	}
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(p *auth.Principal, target string, perm Permission, deep bool) bool

func (f PolicyFunc) Allow(p *auth.Principal, target string, perm Permission, deep bool) bool {
	return f(p, target, perm, deep)
}
