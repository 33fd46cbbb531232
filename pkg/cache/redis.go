package cache

import (
	"bytes"
	"encoding/gob"
	"strconv"
	"strings"
	"time"

	"github.com/cloudreve/davserver/pkg/conf"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/gomodule/redigo/redis"
)

const (
	// DefaultNamespace keeps davserver keys apart from other tenants of the database.
	DefaultNamespace = "davserver:"
	scanBatch        = 500
)

// RedisStore redis存储驱动，所有键都带有命名空间前缀
type RedisStore struct {
	pool      *redis.Pool
	namespace string
	l         logging.Logger
}

type item struct {
	Value interface{}
}

func encode(value any) ([]byte, error) {
	var buffer bytes.Buffer
	if err := gob.NewEncoder(&buffer).Encode(item{Value: value}); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func decode(value []byte) (any, error) {
	var res item
	if err := gob.NewDecoder(bytes.NewReader(value)).Decode(&res); err != nil {
		return nil, err
	}
	return res.Value, nil
}

// NewRedisStore 创建新的redis存储
func NewRedisStore(l logging.Logger, size int, config *conf.Redis) *RedisStore {
	namespace := config.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}

	return &RedisStore{
		namespace: namespace,
		l:         l,
		pool: &redis.Pool{
			MaxIdle:     size,
			IdleTimeout: 240 * time.Second,
			TestOnBorrow: func(c redis.Conn, t time.Time) error {
				if time.Since(t) < time.Minute {
					return nil
				}
				_, err := c.Do("PING")
				return err
			},
			Dial: func() (redis.Conn, error) {
				db, err := strconv.Atoi(config.DB)
				if err != nil {
					return nil, err
				}

				c, err := redis.Dial(
					config.Network,
					config.Server,
					redis.DialDatabase(db),
					redis.DialPassword(config.Password),
					redis.DialUsername(config.User),
					redis.DialUseTLS(config.UseSSL),
					redis.DialTLSSkipVerify(config.TLSSkipVerify),
				)
				if err != nil {
					l.Warning("Failed to connect to Redis at %q: %s", config.Server, err)
					return nil, err
				}
				return c, nil
			},
		},
	}
}

func (store *RedisStore) key(k string) string {
	return store.namespace + k
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

// pattern matches every key starting with prefix.
func (store *RedisStore) pattern(prefix string) string {
	return globEscaper.Replace(store.key(prefix)) + "*"
}

func (store *RedisStore) conn() (redis.Conn, error) {
	rc := store.pool.Get()
	if err := rc.Err(); err != nil {
		rc.Close()
		return nil, err
	}
	return rc, nil
}

func (store *RedisStore) Set(key string, value any, ttl int) error {
	serialized, err := encode(value)
	if err != nil {
		return err
	}

	rc, err := store.conn()
	if err != nil {
		return err
	}
	defer rc.Close()

	args := redis.Args{}.Add(store.key(key), serialized)
	if ttl > 0 {
		args = args.Add("EX", ttl)
	}
	_, err = rc.Do("SET", args...)
	return err
}

func (store *RedisStore) Get(key string) (any, bool) {
	rc, err := store.conn()
	if err != nil {
		return nil, false
	}
	defer rc.Close()

	v, err := redis.Bytes(rc.Do("GET", store.key(key)))
	if err != nil {
		if err != redis.ErrNil {
			store.l.Debug("Failed to read %q from Redis: %s", key, err)
		}
		return nil, false
	}

	value, err := decode(v)
	if err != nil {
		store.l.Warning("Dropping undecodable Redis value %q: %s", key, err)
		return nil, false
	}

	return value, true
}

// Delete 删除给定的键，未指定键时按前缀删除
func (store *RedisStore) Delete(prefix string, keys ...string) error {
	rc, err := store.conn()
	if err != nil {
		return err
	}
	defer rc.Close()

	if len(keys) > 0 {
		args := redis.Args{}
		for _, k := range keys {
			args = args.Add(store.key(prefix + k))
		}
		_, err := rc.Do("DEL", args...)
		return err
	}

	// 分批 SCAN 匹配前缀的键
	cursor := 0
	pattern := store.pattern(prefix)
	for {
		values, err := redis.Values(rc.Do("SCAN", cursor, "MATCH", pattern, "COUNT", scanBatch))
		if err != nil {
			return err
		}

		var batch []string
		if _, err := redis.Scan(values, &cursor, &batch); err != nil {
			return err
		}

		if len(batch) > 0 {
			if _, err := rc.Do("DEL", redis.Args{}.AddFlat(batch)...); err != nil {
				return err
			}
		}

		if cursor == 0 {
			return nil
		}
	}
}

// Persist does nothing, Redis keeps its own data.
func (store *RedisStore) Persist(path string) error {
	return nil
}
