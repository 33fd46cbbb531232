package crontab

import (
	"context"
	"time"

	"github.com/cloudreve/davserver/pkg/cache"
	"github.com/cloudreve/davserver/pkg/lock"
	"github.com/cloudreve/davserver/pkg/logging"
)

// LockPurgeJob drops expired WebDAV locks.
func LockPurgeJob(spec string, ls lock.LockSystem) Job {
	return Job{
		Name: "lock_purge",
		Spec: spec,
		Fn: func(ctx context.Context) {
			purged := ls.Purge(time.Now())
			logging.FromContext(ctx).Info("%d expired locks purged.", purged)
		},
	}
}

// CacheGCJob 清理过期的内置内存缓存
func CacheGCJob(spec string, kv cache.Driver) Job {
	return Job{
		Name: "cache_gc",
		Spec: spec,
		Fn: func(ctx context.Context) {
			store, ok := kv.(*cache.MemoStore)
			if !ok {
				return
			}

			collected := store.GarbageCollect()
			logging.FromContext(ctx).Info("%d expired cache items collected.", collected)
		},
	}
}
