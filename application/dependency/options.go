package dependency

import (
	"github.com/cloudreve/davserver/pkg/cache"
	"github.com/cloudreve/davserver/pkg/conf"
	"github.com/cloudreve/davserver/pkg/lock"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/cloudreve/davserver/pkg/webdav"
	"github.com/jinzhu/gorm"
)

// Option 依赖注入的额外设置
type Option interface {
	apply(*dependency)
}

type optionFunc func(*dependency)

func (f optionFunc) apply(o *dependency) {
	f(o)
}

// WithConfigPath Set the path of the config file.
func WithConfigPath(p string) Option {
	return optionFunc(func(o *dependency) {
		o.configPath = p
	})
}

// WithLogger Set the default logging.
func WithLogger(l logging.Logger) Option {
	return optionFunc(func(o *dependency) {
		o.logger = l
	})
}

// WithConfigProvider Set the default config provider.
func WithConfigProvider(c conf.ConfigProvider) Option {
	return optionFunc(func(o *dependency) {
		o.configProvider = c
	})
}

// WithKV Set the default KV store.
func WithKV(kv cache.Driver) Option {
	return optionFunc(func(o *dependency) {
		o.kv = kv
	})
}

// WithStore Set the resource store, replacing the one selected by config.
func WithStore(s resource.Store) Option {
	return optionFunc(func(o *dependency) {
		o.store = s
	})
}

// WithLockSystem Set the lock registry.
func WithLockSystem(ls lock.LockSystem) Option {
	return optionFunc(func(o *dependency) {
		o.lockSystem = ls
	})
}

// WithDB Set the gorm connection, usually a sqlmock one in tests.
func WithDB(db *gorm.DB) Option {
	return optionFunc(func(o *dependency) {
		o.db = db
	})
}

// WithDataObjects Set the data-object sink, skipping the database entirely.
func WithDataObjects(d webdav.DataObjects) Option {
	return optionFunc(func(o *dependency) {
		o.dataObjects = d
	})
}
