package concurrent

import (
	"errors"
	"maps"
	"sync"

	"gopkg.in/yaml.v3"
)

// 默认分片数量
const DefaultShardCount = 32

// Option 定义配置函数的类型
type Option[K comparable, V any] func(*Map[K, V])

// WithShardCount 自定义分片数量, 建议为 2 的幂
func WithShardCount[K comparable, V any](count uint32) Option[K, V] {
	return func(m *Map[K, V]) {
		if count > 0 {
			m.shardCount = count
		}
	}
}

// Map 分片加锁的并发 Map
type Map[K comparable, V any] struct {
	shards     []*shard[K, V]
	hashFunc   func(K) uint32
	shardCount uint32
}

type shard[K comparable, V any] struct {
	items map[K]V
	sync.RWMutex
}

// NewMap 创建一个新的并发 Map
// hashFunc: 将 Key 转换为 uint32, 决定分片位置
func NewMap[K comparable, V any](hashFunc func(K) uint32, opts ...Option[K, V]) *Map[K, V] {
	m := &Map[K, V]{
		shardCount: DefaultShardCount,
		hashFunc:   hashFunc,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.shards = make([]*shard[K, V], m.shardCount)
	for i := range m.shardCount {
		m.shards[i] = &shard[K, V]{items: make(map[K]V)}
	}
	return m
}

func (m *Map[K, V]) getShard(key K) *shard[K, V] {
	return m.shards[m.hashFunc(key)%m.shardCount]
}

// Set 写入键值对
func (m *Map[K, V]) Set(key K, value V) {
	s := m.getShard(key)
	s.Lock()
	defer s.Unlock()
	s.items[key] = value
}

// Get 读取键值对
func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.getShard(key)
	s.RLock()
	defer s.RUnlock()
	val, ok := s.items[key]
	return val, ok
}

// SetIfAbsent Key 不存在时写入; 返回实际存储的值, 以及是否为新写入
func (m *Map[K, V]) SetIfAbsent(key K, value V) (V, bool) {
	s := m.getShard(key)
	s.Lock()
	defer s.Unlock()
	if old, ok := s.items[key]; ok {
		return old, false
	}
	s.items[key] = value
	return value, true
}

// Remove 删除键值对
func (m *Map[K, V]) Remove(key K) {
	s := m.getShard(key)
	s.Lock()
	defer s.Unlock()
	delete(s.items, key)
}

// Count 统计元素数量, 高并发下是近似值
func (m *Map[K, V]) Count() int {
	count := 0
	for _, s := range m.shards {
		s.RLock()
		count += len(s.items)
		s.RUnlock()
	}
	return count
}

// Keys 获取所有的 Key
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0)
	for _, s := range m.shards {
		s.RLock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.RUnlock()
	}
	return keys
}

// IterCb 逐个分片遍历, fn 返回 false 时停止
// 遍历期间只持有当前分片的读锁, fn 内不能写入同一个 Map
func (m *Map[K, V]) IterCb(fn func(key K, v V) bool) {
	for _, s := range m.shards {
		s.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.RUnlock()
				return
			}
		}
		s.RUnlock()
	}
}

// Snapshot 复制出一个普通 map
func (m *Map[K, V]) Snapshot() map[K]V {
	tmp := make(map[K]V)
	for _, s := range m.shards {
		s.RLock()
		maps.Copy(tmp, s.items)
		s.RUnlock()
	}
	return tmp
}

// MarshalYAML 实现 yaml.Marshaler 接口
func (m *Map[K, V]) MarshalYAML() (interface{}, error) {
	return m.Snapshot(), nil
}

// UnmarshalYAML 实现 yaml.Unmarshaler 接口
// m 必须已经通过 NewMap 初始化 (需要 hashFunc)
func (m *Map[K, V]) UnmarshalYAML(value *yaml.Node) error {
	if m.shards == nil {
		return errors.New("concurrent.Map must be initialized with NewMap before decoding")
	}
	tmp := make(map[K]V)
	if err := value.Decode(&tmp); err != nil {
		return err
	}
	for k, v := range tmp {
		m.Set(k, v)
	}
	return nil
}
