package dependency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cloudreve/davserver/models"
	"github.com/cloudreve/davserver/pkg/auth"
	"github.com/cloudreve/davserver/pkg/cache"
	"github.com/cloudreve/davserver/pkg/conf"
	"github.com/cloudreve/davserver/pkg/crontab"
	"github.com/cloudreve/davserver/pkg/hashid"
	"github.com/cloudreve/davserver/pkg/indexer"
	"github.com/cloudreve/davserver/pkg/lock"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/cloudreve/davserver/pkg/resource/local"
	"github.com/cloudreve/davserver/pkg/resource/memory"
	"github.com/cloudreve/davserver/pkg/sanitizer"
	"github.com/cloudreve/davserver/pkg/statics"
	"github.com/cloudreve/davserver/pkg/util"
	"github.com/cloudreve/davserver/pkg/webdav"
	"github.com/jinzhu/gorm"
	"github.com/robfig/cron/v3"
)

var (
	ErrorConfigPathNotSet = errors.New("config path not set")
)

type (
	// DepCtx defines keys for dependency manager
	DepCtx struct{}
)

// Dep manages all dependencies of the server application. The default implementation is not
// concurrent safe, so all inner deps should be initialized before any goroutine starts.
type Dep interface {
	// ConfigProvider Get a singleton conf.ConfigProvider instance.
	ConfigProvider() conf.ConfigProvider
	// Logger Get a singleton logging.Logger instance.
	Logger() logging.Logger
	// KV Get a singleton cache.Driver instance for KV store.
	KV() cache.Driver
	// HashIDEncoder Get a singleton hashid.Encoder instance for ETags.
	HashIDEncoder() hashid.Encoder
	// LockSystem Get the process-wide lock registry.
	LockSystem() lock.LockSystem
	// TempFiles Get the process-wide set of temporary resources.
	TempFiles() *webdav.TempFiles
	// Store Get a singleton resource.Store selected by [Dav] Storage.
	Store() resource.Store
	// AuthProvider Get a singleton auth.Provider instance.
	AuthProvider() auth.Provider
	// Indexer Get a singleton search indexing sink.
	Indexer() *indexer.KVIndexer
	// DB Get a singleton gorm connection for data-object records.
	DB() *gorm.DB
	// DataObjects Get a singleton data-object registration sink.
	DataObjects() webdav.DataObjects
	// Sanitizer Get a singleton embedded-script detector.
	Sanitizer() webdav.Sanitizer
	// StaticFS Get a singleton static asset file system.
	StaticFS() *statics.FS
	// DavHandler Get a singleton WebDAV engine.
	DavHandler() *webdav.Handler
	// Cron Get a singleton maintenance scheduler, not started.
	Cron() *cron.Cron
	// ForkWithLogger create a shallow copy of dependency with a new correlated logger, used as per-request dep.
	ForkWithLogger(ctx context.Context, l logging.Logger) context.Context
	// Shutdown the dependencies gracefully.
	Shutdown(ctx context.Context) error
}

type dependency struct {
	configProvider conf.ConfigProvider
	logger         logging.Logger
	kv             cache.Driver
	hashidEncoder  hashid.Encoder
	lockSystem     lock.LockSystem
	tempFiles      *webdav.TempFiles
	store          resource.Store
	authProvider   auth.Provider
	indexer        *indexer.KVIndexer
	db             *gorm.DB
	dataObjects    webdav.DataObjects
	sanitizer      webdav.Sanitizer
	staticFS       *statics.FS
	davHandler     *webdav.Handler
	cron           *cron.Cron

	configPath string

	// Protects inner deps during shutdown.
	mu sync.Mutex
}

// NewDependency creates a new Dep instance for construct dependencies.
func NewDependency(opts ...Option) Dep {
	d := &dependency{}
	for _, o := range opts {
		o.apply(d)
	}

	return d
}

// FromContext retrieves a Dep instance from context.
func FromContext(ctx context.Context) Dep {
	return ctx.Value(DepCtx{}).(Dep)
}

func (d *dependency) ConfigProvider() conf.ConfigProvider {
	if d.configProvider != nil {
		return d.configProvider
	}

	if d.configPath == "" {
		d.panicError(ErrorConfigPathNotSet)
	}

	var err error
	d.configProvider, err = conf.NewIniConfigProvider(d.configPath, logging.NewConsoleLogger(logging.LevelInformational))
	if err != nil {
		d.panicError(err)
	}

	return d.configProvider
}

func (d *dependency) Logger() logging.Logger {
	if d.logger != nil {
		return d.logger
	}

	config := d.ConfigProvider()
	logLevel := logging.ParseLevel(config.System().LogLevel)
	if config.System().Debug {
		logLevel = logging.LevelDebug
	}

	d.logger = logging.NewConsoleLogger(logLevel)
	d.logger.Info("Logger initialized with LogLevel=%q.", logLevel)
	return d.logger
}

func (d *dependency) KV() cache.Driver {
	if d.kv != nil {
		return d.kv
	}

	config := d.ConfigProvider().Redis()
	if config.Server != "" {
		d.kv = cache.NewRedisStore(d.Logger(), 10, config)
	} else {
		d.kv = cache.NewMemoStore(util.DataPath(cache.DefaultCacheFile), d.Logger())
	}

	return d.kv
}

func (d *dependency) HashIDEncoder() hashid.Encoder {
	if d.hashidEncoder != nil {
		return d.hashidEncoder
	}

	encoder, err := hashid.New(d.ConfigProvider().System().HashIDSalt)
	if err != nil {
		d.panicError(err)
	}

	d.hashidEncoder = encoder
	return d.hashidEncoder
}

func (d *dependency) LockSystem() lock.LockSystem {
	if d.lockSystem != nil {
		return d.lockSystem
	}

	d.lockSystem = lock.NewRegistry(d.Logger())
	return d.lockSystem
}

func (d *dependency) TempFiles() *webdav.TempFiles {
	if d.tempFiles != nil {
		return d.tempFiles
	}

	d.tempFiles = webdav.NewTempFiles()
	return d.tempFiles
}

func (d *dependency) Store() resource.Store {
	if d.store != nil {
		return d.store
	}

	config := d.ConfigProvider().Dav()
	policy := resource.DefaultPolicy{ReadOnly: config.ReadOnly}
	switch config.Storage {
	case conf.MemoryStorage:
		d.Logger().Info("Using in-memory storage, all files are lost on shutdown.")
		d.store = memory.New(d.HashIDEncoder(), policy, config.ReadOnly)
	default:
		store, err := local.New(util.RelativePath(config.Root), d.KV(), d.HashIDEncoder(), policy, config.ReadOnly)
		if err != nil {
			d.panicError(err)
		}
		d.Logger().Info("Serving files from %q.", util.RelativePath(config.Root))
		d.store = store
	}

	return d.store
}

func (d *dependency) AuthProvider() auth.Provider {
	if d.authProvider != nil {
		return d.authProvider
	}

	d.authProvider = auth.NewIniProvider(d.ConfigProvider())
	return d.authProvider
}

func (d *dependency) Indexer() *indexer.KVIndexer {
	if d.indexer != nil {
		return d.indexer
	}

	d.indexer = indexer.NewKVIndexer(d.KV(), d.Logger())
	return d.indexer
}

func (d *dependency) DB() *gorm.DB {
	if d.db != nil {
		return d.db
	}

	db, err := model.Init(d.ConfigProvider().Database(), d.ConfigProvider().System().Debug, d.Logger())
	if err != nil {
		d.panicError(err)
	}

	d.db = db
	return d.db
}

func (d *dependency) DataObjects() webdav.DataObjects {
	if d.dataObjects != nil {
		return d.dataObjects
	}

	d.dataObjects = model.NewDataObjectClient(d.DB())
	return d.dataObjects
}

func (d *dependency) Sanitizer() webdav.Sanitizer {
	if d.sanitizer != nil {
		return d.sanitizer
	}

	d.sanitizer = sanitizer.New()
	return d.sanitizer
}

func (d *dependency) StaticFS() *statics.FS {
	if d.staticFS != nil {
		return d.staticFS
	}

	config := d.ConfigProvider().Static()
	d.staticFS = statics.New(d.Logger(), util.RelativePath(config.Path), d.KV(), config.PrecompressedExt)
	return d.staticFS
}

func (d *dependency) DavHandler() *webdav.Handler {
	if d.davHandler != nil {
		return d.davHandler
	}

	config := d.ConfigProvider()
	d.davHandler = webdav.NewHandler(
		webdav.NewConfig(config.Dav(), config.System().Debug),
		d.Store(),
		d.LockSystem(),
		d.TempFiles(),
		d.Logger(),
		webdav.WithIndexer(d.Indexer()),
		webdav.WithDataObjects(d.DataObjects()),
		webdav.WithSanitizer(d.Sanitizer()),
		webdav.WithDirectory(d.AuthProvider()),
	)
	return d.davHandler
}

func (d *dependency) Cron() *cron.Cron {
	if d.cron != nil {
		return d.cron
	}

	config := d.ConfigProvider().Cron()
	d.cron = crontab.NewCron(d.Logger(),
		crontab.LockPurgeJob(config.LockPurge, d.LockSystem()),
		crontab.CacheGCJob(config.CacheGC, d.KV()),
	)
	return d.cron
}

// Shutdown stops the scheduler, deletes temporary resources, persists the memory KV
// and closes the database. Only deps that were initialized are touched.
func (d *dependency) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error

	if d.cron != nil {
		<-d.cron.Stop().Done()
	}

	if d.tempFiles != nil && d.store != nil {
		sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		deleted := d.tempFiles.Sweep(sweepCtx, d.store)
		cancel()
		if deleted > 0 {
			d.Logger().Info("%d temporary files deleted.", deleted)
		}
	}

	if d.kv != nil {
		if err := d.kv.Persist(util.DataPath(cache.DefaultCacheFile)); err != nil {
			errs = append(errs, err)
		}
	}

	if d.db != nil {
		d.Logger().Info("Shutting down database connection...")
		if err := d.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}

	return nil
}

func (d *dependency) panicError(err error) {
	if d.logger != nil {
		d.logger.Panic("Fatal error in dependency initialization: %s", err)
	}

	panic(err)
}

func (d *dependency) ForkWithLogger(ctx context.Context, l logging.Logger) context.Context {
	dep := &dependencyCorrelated{
		l:          l,
		dependency: d,
	}
	return context.WithValue(ctx, DepCtx{}, dep)
}

type dependencyCorrelated struct {
	l logging.Logger
	*dependency
}

func (d *dependencyCorrelated) Logger() logging.Logger {
	return d.l
}
