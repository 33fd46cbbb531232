package explorer

import (
	"context"
	"errors"
	"time"

	"github.com/cloudreve/davserver/application/dependency"
	"github.com/cloudreve/davserver/pkg/auth"
	"github.com/cloudreve/davserver/pkg/lock"
	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/cloudreve/davserver/pkg/serializer"
	"github.com/cloudreve/davserver/pkg/util"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// TreeService 列出资源树
type TreeService struct {
	Path  string `uri:"path"`
	Depth int    `form:"depth,default=1" binding:"min=0,max=10"`
}

// List 列出目标资源及其指定深度内的子资源
func (service *TreeService) List(c *gin.Context) serializer.Response {
	ctx := c.Request.Context()
	dep := dependency.FromContext(ctx)
	principal := auth.PrincipalFromContext(ctx)
	p := util.SlashClean(service.Path)

	if !principal.CanAccess(p) && !principal.CanTraverse(p) {
		return serializer.ErrWithDetails(ctx, serializer.CodeNoPermissionErr, "Permission denied", nil)
	}

	store := dep.Store()
	res, err := store.Lookup(ctx, p)
	if errors.Is(err, resource.ErrNotFound) {
		return serializer.ErrWithDetails(ctx, serializer.CodeNotFound, "Resource not found", err)
	}
	if err != nil {
		return serializer.ErrWithDetails(ctx, serializer.CodeIOFailed, "Failed to lookup resource", err)
	}

	if !res.CanRead(principal, false) {
		return serializer.ErrWithDetails(ctx, serializer.CodeNoPermissionErr, "Permission denied", nil)
	}

	w := &treeWalker{
		store:     store,
		locks:     dep.LockSystem(),
		temp:      dep.TempFiles().Contains,
		principal: principal,
		now:       time.Now(),
	}
	obj, err := w.walk(ctx, res, service.Depth)
	if err != nil {
		return serializer.ErrWithDetails(ctx, serializer.CodeIOFailed, "Failed to list children", err)
	}

	return serializer.NewResponse(obj)
}

type treeWalker struct {
	store     resource.Store
	locks     lock.LockSystem
	temp      func(p string) bool
	principal *auth.Principal
	now       time.Time
}

func (w *treeWalker) walk(ctx context.Context, res resource.Resource, depth int) (Object, error) {
	obj := BuildObject(res, len(w.locks.Discover(w.now, res.Path())) > 0)
	if !res.IsCollection() || depth <= 0 || !res.CanList(w.principal, false) {
		return obj, nil
	}

	children, err := w.store.Children(ctx, res.Path())
	if err != nil {
		return obj, err
	}

	// 临时文件与无权读取的资源不出现在列表中
	visible := lo.Filter(children, func(child resource.Resource, _ int) bool {
		return !w.temp(child.Path()) && child.CanRead(w.principal, false)
	})

	obj.Children = make([]Object, 0, len(visible))
	for _, child := range visible {
		childObj, err := w.walk(ctx, child, depth-1)
		if err != nil {
			return obj, err
		}
		obj.Children = append(obj.Children, childObj)
	}

	return obj, nil
}
