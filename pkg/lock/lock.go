// Package lock keeps the advisory WebDAV write locks of this process.
package lock

import (
	"errors"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/cloudreve/davserver/pkg/util"
	"github.com/google/uuid"
)

var (
	ErrLocked     = errors.New("lock: resource is locked")
	ErrNoSuchLock = errors.New("lock: no such lock")
)

// MaxDepth is the depth recorded for an infinite lock, and the deepest level a
// PROPFIND traversal descends to.
const MaxDepth = 10

// TokenPrefix is the URI scheme of lock tokens.
const TokenPrefix = "opaquelocktoken:"

type Scope string

const (
	Exclusive Scope = "exclusive"
	Shared    Scope = "shared"
)

// Lock is a write lock on a path.
type Lock struct {
	Path      string
	Type      string
	Scope     Scope
	Depth     int
	Owner     string
	Tokens    []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the lock is logically absent at now.
func (l *Lock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Matches reports whether any token of the lock appears in the client supplied
// header text.
func (l *Lock) Matches(tokenText string) bool {
	if tokenText == "" {
		return false
	}
	for _, t := range l.Tokens {
		if strings.Contains(tokenText, t) {
			return true
		}
	}
	return false
}

// Covers reports whether the lock applies to p.
func (l *Lock) Covers(p string) bool {
	if l.Path == p {
		return true
	}
	return l.Depth > 0 && util.IsDescendant(l.Path, p)
}

func (l *Lock) clone() *Lock {
	c := *l
	c.Tokens = append([]string(nil), l.Tokens...)
	return &c
}

// Request describes a lock to be created.
type Request struct {
	Path  string
	Scope Scope
	// Depth is 0 or MaxDepth.
	Depth    int
	Owner    string
	Duration time.Duration
	// Collection locks with a non-zero depth are inherited by all descendants.
	Collection bool
}

// LockSystem is the lock registry consumed by the WebDAV engine.
type LockSystem interface {
	// Lock creates a lock and returns it with the token issued for this request.
	Lock(now time.Time, req Request) (*Lock, string, error)
	// Refresh extends the lock on p identified by a token found in tokenText.
	Refresh(now time.Time, p, tokenText string, d time.Duration) (*Lock, error)
	// Unlock releases token. The lock disappears once its last token is released.
	Unlock(now time.Time, p, token string) error
	// Check reports whether a write to p is allowed with the given token text, which
	// is the combined If and Lock-Token header values.
	Check(now time.Time, p, tokenText string) bool
	// CheckTree is Check for p and every lock held below it. It returns the first
	// path whose lock is not matched.
	CheckTree(now time.Time, p, tokenText string) (string, bool)
	// Discover returns the active locks applying to p.
	Discover(now time.Time, p string) []*Lock

	MarkLockNull(p string)
	ClearLockNull(p string)
	IsLockNull(now time.Time, p string) bool
	LockNullChildren(now time.Time, parent string) []string

	// Purge drops expired locks and returns how many were removed.
	Purge(now time.Time) int
	// List returns a snapshot of all active locks.
	List(now time.Time) []*Lock
}

// Registry is an in-memory LockSystem. Locks on a single path live in byPath,
// collection locks with infinite depth live in the inheritable list.
type Registry struct {
	l           logging.Logger
	mu          sync.Mutex
	byPath      map[string]*Lock
	inheritable []*Lock
	lockNull    map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(l logging.Logger) *Registry {
	return &Registry{
		l:        l,
		byPath:   make(map[string]*Lock),
		lockNull: make(map[string]struct{}),
	}
}

func newToken() string {
	return TokenPrefix + uuid.New().String()
}

func conflicts(a, b Scope) bool {
	return a == Exclusive || b == Exclusive
}

func (r *Registry) Lock(now time.Time, req Request) (*Lock, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req.Path = util.SlashClean(req.Path)
	r.l.Debug("Lock create: Path: %s, Scope: %s, Depth: %d, Duration: %v", req.Path, req.Scope, req.Depth, req.Duration)

	// Exact path lock.
	var sameSlot *Lock
	if existing := r.exact(now, req.Path); existing != nil {
		if conflicts(existing.Scope, req.Scope) {
			return nil, "", ErrLocked
		}
		if existing.Depth == req.Depth {
			sameSlot = existing
		}
	}

	// Ancestors' inheritable locks, and locks below us if we are infinite.
	for _, l := range r.activeInheritable(now) {
		applies := l.Covers(req.Path) || (req.Depth > 0 && util.IsDescendant(req.Path, l.Path))
		if !applies {
			continue
		}
		if conflicts(l.Scope, req.Scope) {
			return nil, "", ErrLocked
		}
		if l.Path == req.Path && req.Depth > 0 && req.Collection {
			sameSlot = l
		}
	}

	if req.Depth > 0 {
		for p, l := range r.byPath {
			if p != req.Path && util.IsDescendant(req.Path, p) && !l.Expired(now) && conflicts(l.Scope, req.Scope) {
				return nil, "", ErrLocked
			}
		}
	}

	token := newToken()
	if sameSlot != nil {
		// Shared locks on the same slot pile up tokens.
		sameSlot.Tokens = append(sameSlot.Tokens, token)
		if exp := now.Add(req.Duration); exp.After(sameSlot.ExpiresAt) {
			sameSlot.ExpiresAt = exp
		}
		return sameSlot.clone(), token, nil
	}

	l := &Lock{
		Path:      req.Path,
		Type:      "write",
		Scope:     req.Scope,
		Depth:     req.Depth,
		Owner:     req.Owner,
		Tokens:    []string{token},
		CreatedAt: now,
		ExpiresAt: now.Add(req.Duration),
	}

	if req.Depth > 0 && req.Collection {
		r.inheritable = append(r.inheritable, l)
	} else {
		r.byPath[req.Path] = l
	}

	return l.clone(), token, nil
}

func (r *Registry) Refresh(now time.Time, p, tokenText string, d time.Duration) (*Lock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p = util.SlashClean(p)
	r.l.Debug("Lock refresh: Path: %s, Duration: %v", p, d)
	for _, l := range r.applying(now, p) {
		if l.Matches(tokenText) {
			l.ExpiresAt = now.Add(d)
			return l.clone(), nil
		}
	}

	return nil, ErrNoSuchLock
}

func (r *Registry) Unlock(now time.Time, p, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p = util.SlashClean(p)
	token = strings.Trim(strings.TrimSpace(token), "<>")
	r.l.Debug("Lock release: Path: %s, Token: %s", p, token)
	for _, l := range r.applying(now, p) {
		for i, t := range l.Tokens {
			if t != token {
				continue
			}

			l.Tokens = append(l.Tokens[:i], l.Tokens[i+1:]...)
			if len(l.Tokens) == 0 {
				r.remove(l)
			}
			return nil
		}
	}

	return ErrNoSuchLock
}

func (r *Registry) Check(now time.Time, p, tokenText string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.applying(now, util.SlashClean(p)) {
		if !l.Matches(tokenText) {
			return false
		}
	}
	return true
}

func (r *Registry) CheckTree(now time.Time, p, tokenText string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p = util.SlashClean(p)
	for _, l := range r.applying(now, p) {
		if !l.Matches(tokenText) {
			return p, false
		}
	}

	blocked := make([]string, 0)
	for lp, l := range r.byPath {
		if util.IsDescendant(p, lp) && lp != p && !l.Expired(now) && !l.Matches(tokenText) {
			blocked = append(blocked, lp)
		}
	}
	for _, l := range r.activeInheritable(now) {
		if util.IsDescendant(p, l.Path) && l.Path != p && !l.Matches(tokenText) {
			blocked = append(blocked, l.Path)
		}
	}
	if len(blocked) == 0 {
		return "", true
	}

	// 多处被锁时报告路径最短的一个
	sort.Strings(blocked)
	return blocked[0], false
}

func (r *Registry) Discover(now time.Time, p string) []*Lock {
	r.mu.Lock()
	defer r.mu.Unlock()

	applying := r.applying(now, util.SlashClean(p))
	res := make([]*Lock, 0, len(applying))
	for _, l := range applying {
		res = append(res, l.clone())
	}
	return res
}

func (r *Registry) MarkLockNull(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockNull[util.SlashClean(p)] = struct{}{}
}

func (r *Registry) ClearLockNull(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lockNull, util.SlashClean(p))
}

func (r *Registry) IsLockNull(now time.Time, p string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p = util.SlashClean(p)
	if _, ok := r.lockNull[p]; !ok {
		return false
	}
	return r.hasLockAt(now, p)
}

func (r *Registry) LockNullChildren(now time.Time, parent string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent = util.SlashClean(parent)
	res := make([]string, 0)
	for p := range r.lockNull {
		if p != "/" && path.Dir(p) == parent && r.hasLockAt(now, p) {
			res = append(res, p)
		}
	}
	sort.Strings(res)
	return res
}

func (r *Registry) Purge(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for p, l := range r.byPath {
		if l.Expired(now) {
			r.remove(l)
			purged++
			r.l.Debug("Lock on %q expired.", p)
		}
	}

	kept := r.inheritable[:0]
	for _, l := range r.inheritable {
		if l.Expired(now) {
			purged++
			r.l.Debug("Collection lock on %q expired.", l.Path)
			continue
		}
		kept = append(kept, l)
	}
	r.inheritable = kept

	for p := range r.lockNull {
		if !r.hasLockAt(now, p) {
			delete(r.lockNull, p)
		}
	}

	return purged
}

func (r *Registry) List(now time.Time) []*Lock {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]*Lock, 0, len(r.byPath)+len(r.inheritable))
	for _, l := range r.byPath {
		if !l.Expired(now) {
			res = append(res, l.clone())
		}
	}
	for _, l := range r.activeInheritable(now) {
		res = append(res, l.clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Path < res[j].Path })
	return res
}

// exact returns the unexpired lock stored for p, dropping it if expired.
func (r *Registry) exact(now time.Time, p string) *Lock {
	l, ok := r.byPath[p]
	if !ok {
		return nil
	}
	if l.Expired(now) {
		r.remove(l)
		return nil
	}
	return l
}

// activeInheritable drops expired collection locks and returns the rest.
func (r *Registry) activeInheritable(now time.Time) []*Lock {
	kept := r.inheritable[:0]
	for _, l := range r.inheritable {
		if !l.Expired(now) {
			kept = append(kept, l)
		}
	}
	r.inheritable = kept
	return kept
}

// applying returns the exact lock of p plus every inheritable lock covering it.
func (r *Registry) applying(now time.Time, p string) []*Lock {
	res := make([]*Lock, 0, 1)
	if l := r.exact(now, p); l != nil {
		res = append(res, l)
	}
	for _, l := range r.activeInheritable(now) {
		if l.Covers(p) {
			res = append(res, l)
		}
	}
	return res
}

func (r *Registry) hasLockAt(now time.Time, p string) bool {
	if r.exact(now, p) != nil {
		return true
	}
	for _, l := range r.activeInheritable(now) {
		if l.Path == p {
			return true
		}
	}
	return false
}

func (r *Registry) remove(l *Lock) {
	if cur, ok := r.byPath[l.Path]; ok && cur == l {
		delete(r.byPath, l.Path)
	} else {
		for i, x := range r.inheritable {
			if x == l {
				r.inheritable = append(r.inheritable[:i], r.inheritable[i+1:]...)
				break
			}
		}
	}

	if !r.hasLockAtUnchecked(l.Path) {
		delete(r.lockNull, l.Path)
	}
}

func (r *Registry) hasLockAtUnchecked(p string) bool {
	if _, ok := r.byPath[p]; ok {
		return true
	}
	for _, l := range r.inheritable {
		if l.Path == p {
			return true
		}
	}
	return false
}
