package admin

import (
	"sort"
	"time"

	"github.com/cloudreve/davserver/application/dependency"
	"github.com/cloudreve/davserver/pkg/lock"
	"github.com/cloudreve/davserver/pkg/serializer"
	"github.com/cloudreve/davserver/pkg/util"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// ListLockService 列出活跃的锁
type ListLockService struct {
	// Path limits the result to locks on or below it.
	Path string `form:"path" binding:"omitempty,startswith=/"`
}

// LockObject is an active lock without its tokens.
type LockObject struct {
	Path      string    `json:"path"`
	Scope     string    `json:"scope"`
	Depth     string    `json:"depth"`
	Owner     string    `json:"owner,omitempty"`
	Holders   int       `json:"holders"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func BuildLockObject(l *lock.Lock) LockObject {
	depth := "0"
	if l.Depth > 0 {
		depth = "infinity"
	}

	return LockObject{
		Path:      l.Path,
		Scope:     string(l.Scope),
		Depth:     depth,
		Owner:     l.Owner,
		Holders:   len(l.Tokens),
		CreatedAt: l.CreatedAt,
		ExpiresAt: l.ExpiresAt,
	}
}

// List 返回锁快照
func (service *ListLockService) List(c *gin.Context) serializer.Response {
	dep := dependency.FromContext(c.Request.Context())
	locks := dep.LockSystem().List(time.Now())
	if service.Path != "" {
		root := util.SlashClean(service.Path)
		locks = lo.Filter(locks, func(l *lock.Lock, _ int) bool {
			return util.IsDescendant(root, l.Path)
		})
	}

	res := lo.Map(locks, func(l *lock.Lock, _ int) LockObject {
		return BuildLockObject(l)
	})
	sort.Slice(res, func(i, j int) bool {
		if res[i].Path == res[j].Path {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].Path < res[j].Path
	})

	return serializer.NewResponse(res)
}
