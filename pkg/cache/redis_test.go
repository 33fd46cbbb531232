package cache

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/cloudreve/davserver/pkg/conf"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/gomodule/redigo/redis"
	"github.com/rafaeljusto/redigomock"
	"github.com/stretchr/testify/assert"
)

func mockStore(conn *redigomock.Conn) *RedisStore {
	return &RedisStore{
		namespace: DefaultNamespace,
		l:         logging.NewLogger(logging.LevelError, &bytes.Buffer{}),
		pool: &redis.Pool{
			Dial:    func() (redis.Conn, error) { return conn, nil },
			MaxIdle: 10,
		},
	}
}

func brokenPool() *redis.Pool {
	return &redis.Pool{
		Dial:    func() (redis.Conn, error) { return nil, errors.New("error") },
		MaxIdle: 10,
	}
}

func TestNewRedisStore(t *testing.T) {
	asserts := assert.New(t)
	l := logging.NewLogger(logging.LevelError, &bytes.Buffer{})

	store := NewRedisStore(l, 10, &conf.Redis{
		Network: "tcp",
		DB:      "0",
	})
	asserts.NotNil(store)
	asserts.Equal(DefaultNamespace, store.namespace)

	conn, err := store.pool.Dial()
	asserts.Nil(conn)
	asserts.Error(err)

	// 最近使用过的连接不做检查
	{
		testConn := redigomock.NewConn()
		cmd := testConn.Command("PING").Expect("PONG")
		asserts.NoError(store.pool.TestOnBorrow(testConn, time.Now()))
		asserts.Equal(0, testConn.Stats(cmd))
	}

	// 空闲过久
	{
		testConn := redigomock.NewConn()
		cmd := testConn.Command("PING").Expect("PONG")
		asserts.NoError(store.pool.TestOnBorrow(testConn, time.Now().Add(-2*time.Minute)))
		asserts.Equal(1, testConn.Stats(cmd))
	}

	// 自定义命名空间
	{
		store := NewRedisStore(l, 10, &conf.Redis{Network: "tcp", DB: "0", Namespace: "dav2:"})
		asserts.Equal("dav2:", store.namespace)
		asserts.Equal("dav2:dav_prop_/a", store.key("dav_prop_/a"))
	}

	// DB 不是数字
	{
		store := NewRedisStore(l, 10, &conf.Redis{Network: "tcp", DB: "zero"})
		_, err := store.pool.Dial()
		asserts.Error(err)
	}
}

func TestRedisStore_Set(t *testing.T) {
	asserts := assert.New(t)
	conn := redigomock.NewConn()
	store := mockStore(conn)

	// 正常情况
	{
		cmd := conn.Command("SET", "davserver:test", redigomock.NewAnyData()).Expect("OK")
		asserts.NoError(store.Set("test", "test val", -1))
		asserts.Equal(1, conn.Stats(cmd))
	}

	// 带有TTL
	{
		cmd := conn.Command("SET", "davserver:test", redigomock.NewAnyData(), "EX", 10).Expect("OK")
		asserts.NoError(store.Set("test", "test val", 10))
		asserts.Equal(1, conn.Stats(cmd))
	}

	// 序列化出错
	{
		value := struct {
			key string
		}{
			key: "123",
		}
		asserts.Error(store.Set("test", value, -1))
	}

	// 命令执行失败
	{
		conn.Clear()
		cmd := conn.Command("SET", "davserver:test", redigomock.NewAnyData()).ExpectError(errors.New("error"))
		asserts.Error(store.Set("test", "test val", -1))
		asserts.Equal(1, conn.Stats(cmd))
	}

	// 获取连接失败
	{
		store.pool = brokenPool()
		asserts.Error(store.Set("test", "123", -1))
	}
}

func TestRedisStore_Get(t *testing.T) {
	asserts := assert.New(t)
	conn := redigomock.NewConn()
	store := mockStore(conn)

	// 正常情况
	{
		expectVal, err := encode("test val")
		asserts.NoError(err)
		cmd := conn.Command("GET", "davserver:test").Expect(expectVal)
		val, ok := store.Get("test")
		asserts.Equal(1, conn.Stats(cmd))
		asserts.True(ok)
		asserts.Equal("test val", val.(string))
	}

	// Key不存在
	{
		conn.Clear()
		conn.Command("GET", "davserver:test").Expect(nil)
		val, ok := store.Get("test")
		asserts.False(ok)
		asserts.Nil(val)
	}

	// 解码错误
	{
		conn.Clear()
		conn.Command("GET", "davserver:test").Expect([]byte{0x20})
		val, ok := store.Get("test")
		asserts.False(ok)
		asserts.Nil(val)
	}

	// 获取连接失败
	{
		store.pool = brokenPool()
		val, ok := store.Get("test")
		asserts.False(ok)
		asserts.Nil(val)
	}
}

func TestRedisStore_Delete(t *testing.T) {
	asserts := assert.New(t)
	conn := redigomock.NewConn()
	store := mockStore(conn)

	// 指定键
	{
		cmd := conn.Command("DEL", "davserver:test_1", "davserver:test_2").Expect(int64(2))
		asserts.NoError(store.Delete("test_", "1", "2"))
		asserts.Equal(1, conn.Stats(cmd))
	}

	// 按前缀删除
	{
		conn.Clear()
		first := conn.Command("SCAN", 0, "MATCH", "davserver:test_*", "COUNT", scanBatch).
			Expect([]interface{}{[]byte("7"), []interface{}{[]byte("davserver:test_3")}})
		next := conn.Command("SCAN", 7, "MATCH", "davserver:test_*", "COUNT", scanBatch).
			Expect([]interface{}{[]byte("0"), []interface{}{}})
		del := conn.Command("DEL", "davserver:test_3").Expect(int64(1))
		asserts.NoError(store.Delete("test_"))
		asserts.Equal(1, conn.Stats(first))
		asserts.Equal(1, conn.Stats(next))
		asserts.Equal(1, conn.Stats(del))
	}

	// 前缀中的通配符被转义
	{
		conn.Clear()
		cmd := conn.Command("SCAN", 0, "MATCH", `davserver:dav_prop_/a\[1\]\*`+"*", "COUNT", scanBatch).
			Expect([]interface{}{[]byte("0"), []interface{}{}})
		asserts.NoError(store.Delete("dav_prop_/a[1]*"))
		asserts.Equal(1, conn.Stats(cmd))
	}

	// SCAN 失败
	{
		conn.Clear()
		conn.Command("SCAN", 0, "MATCH", "davserver:test_*", "COUNT", scanBatch).ExpectError(errors.New("error"))
		asserts.Error(store.Delete("test_"))
	}

	// 命令执行失败
	{
		conn.Clear()
		conn.Command("DEL", "davserver:test_1").ExpectError(errors.New("error"))
		asserts.Error(store.Delete("test_", "1"))
	}

	// 获取连接失败
	{
		store.pool = brokenPool()
		asserts.Error(store.Delete("test_", "1"))
	}
}

func TestRedisStore_Persist(t *testing.T) {
	asserts := assert.New(t)
	store := mockStore(redigomock.NewConn())
	asserts.NoError(store.Persist(""))
}
