package conf

type DBType string

var (
	SQLiteDB DBType = "sqlite"
	MySqlDB  DBType = "mysql"
)

// Database data-object registration database.
type Database struct {
	Type   DBType `validate:"eq=sqlite|eq=mysql"`
	DBFile string
	// DSN is used as-is for MySQL connections.
	DSN         string
	TablePrefix string
}

// System 系统通用配置
type System struct {
	Listen      string `validate:"required"`
	Debug       bool
	GracePeriod int    `validate:"gte=0"`
	ProxyHeader string `validate:"required_with=Listen"`
	LogLevel    string `validate:"oneof=debug info warning error"`
	HashIDSalt  string
}

type StorageType string

var (
	LocalStorage  StorageType = "local"
	MemoryStorage StorageType = "memory"
)

// Dav WebDAV engine options.
type Dav struct {
	Prefix                   string      `validate:"startswith=/"`
	Storage                  StorageType `validate:"eq=local|eq=memory"`
	Root                     string
	ReadOnly                 bool
	RequireAuth              bool
	Realm                    string `validate:"required"`
	LoginURL                 string
	ListableRoot             string `validate:"startswith=/"`
	AllowCollectionOverwrite bool
	Locking                  bool
	// MaxLockTimeout in seconds.
	MaxLockTimeout int   `validate:"gte=1"`
	MaxPutSize     int64 `validate:"gte=0"`
	// MaxPartialPutSize caps the end offset of a Content-Range PUT.
	MaxPartialPutSize int64 `validate:"gte=0"`
	// SpeedLimit in bytes per second for downloads, 0 means unlimited.
	SpeedLimit   int64 `validate:"gte=0"`
	CacheMaxAge  int   `validate:"gte=0"`
	BypassHeader string
	TrustedUsers []string
	MountName    string
}

// Static asset serving.
type Static struct {
	Path             string
	Prefix           string `validate:"startswith=/"`
	PrecompressedExt string
}

// Redis 配置
type Redis struct {
	Network       string
	Server        string
	User          string
	Password      string
	DB            string
	UseSSL        bool
	TLSSkipVerify bool
	// Namespace is prepended to every key.
	Namespace string
}

// 跨域配置
type Cors struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
	ExposeHeaders    []string
}

// RateLimit per client IP.
type RateLimit struct {
	Enabled bool
	RPS     float64 `validate:"gte=0"`
	Burst   int     `validate:"gte=0"`
}

// Cron maintenance schedules.
type Cron struct {
	LockPurge string `validate:"required"`
	CacheGC   string `validate:"required"`
}

// RedisConfig Redis服务器配置
var RedisConfig = &Redis{
	Network:       "tcp",
	Server:        "",
	Password:      "",
	DB:            "0",
	UseSSL:        false,
	TLSSkipVerify: true,
	Namespace:     "davserver:",
}

// DatabaseConfig 数据库配置
var DatabaseConfig = &Database{
	Type:   SQLiteDB,
	DBFile: "davserver.db",
}

// SystemConfig 系统公用配置
var SystemConfig = &System{
	Debug:       false,
	Listen:      ":5212",
	ProxyHeader: "X-Forwarded-For",
	LogLevel:    "info",
	GracePeriod: 10,
}

// DavConfig WebDAV 默认配置
var DavConfig = &Dav{
	Prefix:            "/dav",
	Storage:           LocalStorage,
	Root:              "files",
	Realm:             "davserver",
	ListableRoot:      "/",
	Locking:           true,
	MaxLockTimeout:    3600,
	MaxPartialPutSize: 4 << 30,
	BypassHeader:      "X-Dav-Anonymous",
	MountName:         "davserver",
}

// StaticConfig 静态资源配置
var StaticConfig = &Static{
	Path:             "statics",
	Prefix:           "/static",
	PrecompressedExt: ".gz",
}

// CORSConfig 跨域配置
var CORSConfig = &Cors{
	AllowOrigins:     []string{"UNSET"},
	AllowMethods:     []string{"GET", "OPTIONS", "PROPFIND", "JSON"},
	AllowHeaders:     []string{"Authorization", "Content-Length", "Content-Type", "Depth"},
	AllowCredentials: false,
	ExposeHeaders:    []string{"ETag", "DAV"},
}

// RateLimitConfig 限流配置
var RateLimitConfig = &RateLimit{
	Enabled: false,
	RPS:     20,
	Burst:   40,
}

// CronConfig 定时任务配置
var CronConfig = &Cron{
	LockPurge: "@every 5m",
	CacheGC:   "@every 30m",
}
