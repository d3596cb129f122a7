// Package cache local in-memory view of the active board
// Package cache 当前看板的本地内存视图
//
// Each collection is replaced wholesale by every remote snapshot, so any
// optimistic local write survives only until the next snapshot arrives.
package cache

import (
	"maps"
	"slices"
	"strings"

	"github.com/haierkeys/fast-board-sync/pkg/observable"
)

// Collection keyed set of documents of one kind
// Collection 同类文档的键值集合
//
// The published map is immutable: readers must not modify it and every write
// publishes a fresh map.
type Collection[T any] struct {
	v *observable.Value[map[string]T]
}

// NewCollection creates an empty collection
func NewCollection[T any]() *Collection[T] {
	return &Collection[T]{v: observable.NewValue(map[string]T{})}
}

// Snapshot returns the current map, read only
// Snapshot 返回当前映射（只读）
func (c *Collection[T]) Snapshot() map[string]T {
	return c.v.Get()
}

// Get returns the document stored under id
func (c *Collection[T]) Get(id string) (T, bool) {
	v, ok := c.v.Get()[id]
	return v, ok
}

// Len number of documents
func (c *Collection[T]) Len() int {
	return len(c.v.Get())
}

// Values documents ordered by id
// Values 按 id 排序的文档列表
func (c *Collection[T]) Values() []T {
	m := c.v.Get()
	ids := slices.Sorted(maps.Keys(m))
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

// Replace discards the current contents and publishes docs
// Replace 丢弃当前内容并发布 docs（全量替换）
func (c *Collection[T]) Replace(docs map[string]T) {
	next := make(map[string]T, len(docs))
	maps.Copy(next, docs)
	c.v.Set(next)
}

// Mutate applies fn to a copy of the current map and publishes the copy
// Mutate 在当前映射的副本上执行 fn 并发布该副本
func (c *Collection[T]) Mutate(fn func(m map[string]T)) {
	c.v.Update(func(cur map[string]T) map[string]T {
		next := maps.Clone(cur)
		if next == nil {
			next = make(map[string]T)
		}
		fn(next)
		return next
	})
}

// Put stores doc under id
func (c *Collection[T]) Put(id string, doc T) {
	c.Mutate(func(m map[string]T) { m[id] = doc })
}

// Delete removes id and reports whether it was present
// Delete 删除 id，返回其是否存在
func (c *Collection[T]) Delete(id string) bool {
	var found bool
	c.Mutate(func(m map[string]T) {
		_, found = m[id]
		delete(m, id)
	})
	return found
}

// Filter removes every document for which keep returns false and returns how many were removed
// Filter 删除 keep 返回 false 的文档，返回删除数量
func (c *Collection[T]) Filter(keep func(id string, doc T) bool) int {
	removed := 0
	c.Mutate(func(m map[string]T) {
		for id, doc := range m {
			if !keep(id, doc) {
				delete(m, id)
				removed++
			}
		}
	})
	return removed
}

// Clear empties the collection
func (c *Collection[T]) Clear() {
	c.v.Set(map[string]T{})
}

// Subscribe observes every published map
// Subscribe 订阅每次发布的映射
func (c *Collection[T]) Subscribe(fn func(map[string]T)) (unsubscribe func()) {
	return c.v.Subscribe(fn)
}

// WithPrefix ids starting with prefix, sorted
func (c *Collection[T]) WithPrefix(prefix string) []string {
	var ids []string
	for id := range c.v.Get() {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
