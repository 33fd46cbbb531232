package cache

import (
	"encoding/gob"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/cloudreve/davserver/pkg/util"
)

// MemoStore 内存存储驱动
type MemoStore struct {
	Store *sync.Map
	l     logging.Logger
}

type itemWithTTL struct {
	Expires int64
	Value   any
}

const DefaultCacheFile = "cache_persist.bin"

func newItem(value any, expires int) itemWithTTL {
	expires64 := int64(expires)
	if expires > 0 {
		expires64 = time.Now().Unix() + expires64
	}
	return itemWithTTL{
		Value:   value,
		Expires: expires64,
	}
}

// getValue 从itemWithTTL中取值
func getValue(item any, ok bool) (any, bool) {
	if !ok {
		return nil, ok
	}

	var itemObj itemWithTTL
	if itemObj, ok = item.(itemWithTTL); !ok {
		return item, true
	}

	if itemObj.Expires > 0 && itemObj.Expires < time.Now().Unix() {
		return nil, false
	}

	return itemObj.Value, ok
}

// GarbageCollect 回收已过期的缓存
func (store *MemoStore) GarbageCollect() int {
	collected := 0
	store.Store.Range(func(key, value any) bool {
		if item, ok := value.(itemWithTTL); ok {
			if item.Expires > 0 && item.Expires < time.Now().Unix() {
				store.l.Debug("Cache %q is garbage collected.", key.(string))
				store.Store.Delete(key)
				collected++
			}
		}
		return true
	})

	return collected
}

// NewMemoStore 新建内存存储
func NewMemoStore(persistFile string, l logging.Logger) *MemoStore {
	store := &MemoStore{
		Store: &sync.Map{},
		l:     l,
	}

	if persistFile != "" {
		if err := store.Restore(persistFile); err != nil {
			l.Warning("Failed to restore cache from disk: %s", err)
		}
	}

	return store
}

// Set 存储值
func (store *MemoStore) Set(key string, value any, ttl int) error {
	store.Store.Store(key, newItem(value, ttl))
	return nil
}

// Get 取值
func (store *MemoStore) Get(key string) (any, bool) {
	return getValue(store.Store.Load(key))
}

// Delete 批量删除值
func (store *MemoStore) Delete(prefix string, keys ...string) error {
	if len(keys) == 0 {
		store.Store.Range(func(key, value any) bool {
			if strings.HasPrefix(key.(string), prefix) {
				store.Store.Delete(key)
			}
			return true
		})
		return nil
	}

	for _, key := range keys {
		store.Store.Delete(prefix + key)
	}
	return nil
}

// Persist write memory store into cache
func (store *MemoStore) Persist(path string) error {
	persisted := make(map[string]itemWithTTL)
	store.Store.Range(func(key, value any) bool {
		v, ok := value.(itemWithTTL)
		if ok && (v.Expires <= 0 || v.Expires > time.Now().Unix()) {
			persisted[key.(string)] = v
		}
		return true
	})

	f, err := util.CreatNestedFile(path)
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(&persisted); err != nil {
		return fmt.Errorf("failed to serialize cache: %w", err)
	}

	return nil
}

// Restore memory cache from disk file
func (store *MemoStore) Restore(path string) error {
	if !util.Exists(path) {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open cache file: %w", err)
	}

	defer func() {
		f.Close()
		os.Remove(path)
	}()

	persisted := make(map[string]itemWithTTL)
	if err := gob.NewDecoder(f).Decode(&persisted); err != nil {
		return fmt.Errorf("unknown cache file format: %w", err)
	}

	loaded := 0
	for k, v := range persisted {
		if v.Expires <= 0 || v.Expires > time.Now().Unix() {
			loaded++
			store.Store.Store(k, v)
		}
	}

	store.l.Info("Restored %d items from %q into memory cache.", loaded, path)
	return nil
}
