package conf

import (
	"fmt"
	"os"
	"strings"

	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/cloudreve/davserver/pkg/util"
	"github.com/go-ini/ini"
	"github.com/go-playground/validator/v10"
)

const (
	envConfOverrideKey = "DS_CONF_"
)

type ConfigProvider interface {
	Database() *Database
	System() *System
	Dav() *Dav
	Static() *Static
	Redis() *Redis
	Cors() *Cors
	RateLimit() *RateLimit
	Cron() *Cron
	// Users maps user name to password.
	Users() map[string]string
	// UserRoots maps user name to the path the user is confined to.
	UserRoots() map[string]string
}

// NewIniConfigProvider initializes a new Ini config file provider. A default config file
// will be created if the given path does not exist.
func NewIniConfigProvider(configPath string, l logging.Logger) (ConfigProvider, error) {
	if configPath == "" || !util.Exists(configPath) {
		l.Info("Config file %q not found, creating a new one.", configPath)
		password := util.RandStringRunes(12)
		confContent := util.Replace(map[string]string{
			"{AdminPassword}": password,
			"{HashIDSalt}":    util.RandStringRunes(64),
		}, defaultConf)
		f, err := util.CreatNestedFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create config file: %w", err)
		}

		_, err = f.WriteString(confContent)
		if err != nil {
			return nil, fmt.Errorf("failed to write config file: %w", err)
		}

		f.Close()
		l.Info("Initial account created: admin / %s", password)
	}

	cfg, err := ini.Load(configPath, []byte(getOverrideConfFromEnv(l)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", configPath, err)
	}

	return newProvider(cfg)
}

// NewIniConfigProviderFromBytes parses an in-memory ini document, used by tests and
// embedded deployments.
func NewIniConfigProviderFromBytes(content []byte) (ConfigProvider, error) {
	cfg, err := ini.Load(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return newProvider(cfg)
}

func newProvider(cfg *ini.File) (ConfigProvider, error) {
	provider := &iniConfigProvider{
		database:  *DatabaseConfig,
		system:    *SystemConfig,
		dav:       *DavConfig,
		static:    *StaticConfig,
		redis:     *RedisConfig,
		cors:      *CORSConfig,
		rateLimit: *RateLimitConfig,
		cron:      *CronConfig,
		users:     make(map[string]string),
		userRoots: make(map[string]string),
	}

	sections := map[string]interface{}{
		"Database":  &provider.database,
		"System":    &provider.system,
		"Dav":       &provider.dav,
		"Static":    &provider.static,
		"Redis":     &provider.redis,
		"CORS":      &provider.cors,
		"RateLimit": &provider.rateLimit,
		"Cron":      &provider.cron,
	}
	for sectionName, sectionStruct := range sections {
		if err := mapSection(cfg, sectionName, sectionStruct); err != nil {
			return nil, fmt.Errorf("failed to parse config section %q: %w", sectionName, err)
		}
	}

	for _, key := range cfg.Section("Users").Keys() {
		provider.users[key.Name()] = key.Value()
	}

	for _, key := range cfg.Section("UserRoots").Keys() {
		provider.userRoots[key.Name()] = util.SlashClean(key.Value())
	}

	provider.dav.Prefix = util.RemoveSlash(util.SlashClean(provider.dav.Prefix))
	if provider.system.Debug {
		provider.system.LogLevel = string(logging.LevelDebug)
	}

	return provider, nil
}

type iniConfigProvider struct {
	database  Database
	system    System
	dav       Dav
	static    Static
	redis     Redis
	cors      Cors
	rateLimit RateLimit
	cron      Cron
	users     map[string]string
	userRoots map[string]string
}

func (i *iniConfigProvider) Database() *Database {
	return &i.database
}

func (i *iniConfigProvider) System() *System {
	return &i.system
}

func (i *iniConfigProvider) Dav() *Dav {
	return &i.dav
}

func (i *iniConfigProvider) Static() *Static {
	return &i.static
}

func (i *iniConfigProvider) Redis() *Redis {
	return &i.redis
}

func (i *iniConfigProvider) Cors() *Cors {
	return &i.cors
}

func (i *iniConfigProvider) RateLimit() *RateLimit {
	return &i.rateLimit
}

func (i *iniConfigProvider) Cron() *Cron {
	return &i.cron
}

func (i *iniConfigProvider) Users() map[string]string {
	return i.users
}

func (i *iniConfigProvider) UserRoots() map[string]string {
	return i.userRoots
}

const defaultConf = `[System]
Debug = false
Listen = :5212
LogLevel = info
HashIDSalt = {HashIDSalt}

[Dav]
Prefix = /dav
Storage = local
Root = files
Locking = true

[Users]
admin = {AdminPassword}
`

// mapSection 将配置文件的 Section 映射到结构体上
func mapSection(cfg *ini.File, section string, confStruct interface{}) error {
	err := cfg.Section(section).MapTo(confStruct)
	if err != nil {
		return err
	}

	// 验证合法性
	validate := validator.New()
	err = validate.Struct(confStruct)
	if err != nil {
		return err
	}

	return nil
}

func getOverrideConfFromEnv(l logging.Logger) string {
	confMaps := make(map[string]map[string]string)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, envConfOverrideKey) {
			continue
		}

		// split by key=value and get key
		kv := strings.SplitN(env, "=", 2)
		configKey := strings.TrimPrefix(kv[0], envConfOverrideKey)
		configValue := kv[1]
		sectionKey := strings.SplitN(configKey, ".", 2)
		if len(sectionKey) != 2 {
			l.Warning("Ignore malformed config override %q", kv[0])
			continue
		}

		if confMaps[sectionKey[0]] == nil {
			confMaps[sectionKey[0]] = make(map[string]string)
		}

		confMaps[sectionKey[0]][sectionKey[1]] = configValue
		l.Info("Override config %q = %q", configKey, configValue)
	}

	// generate ini content
	var sb strings.Builder
	for section, kvs := range confMaps {
		sb.WriteString(fmt.Sprintf("[%s]\n", section))
		for k, v := range kvs {
			sb.WriteString(fmt.Sprintf("%s = %s\n", k, v))
		}
	}

	return sb.String()
}
