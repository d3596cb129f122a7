// Package observable provides an explicitly subscribed value holder.
// Package observable 提供显式订阅的值容器
//
// Every Set/Update publishes the new value to the registered observers in the
// order the writes were applied. Observers run synchronously on the writing
// goroutine and must not write to the same Value.
package observable

import (
	"sort"
	"sync"
)

// Value holds a value of type T and a list of observers
// Value 保存类型为 T 的值及其观察者列表
type Value[T any] struct {
	// publishMu serializes write+notify so observers see writes in order
	// publishMu 串行化写入与通知，保证观察者按顺序收到变更
	publishMu sync.Mutex

	mu   sync.RWMutex
	v    T
	subs map[uint64]func(T)
	next uint64
}

// NewValue creates a Value holding v
// NewValue 创建持有初始值 v 的 Value
func NewValue[T any](v T) *Value[T] {
	return &Value[T]{v: v, subs: make(map[uint64]func(T))}
}

// Get returns the current value
// Get 返回当前值
func (o *Value[T]) Get() T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.v
}

// Set replaces the value and notifies observers
// Set 替换当前值并通知观察者
func (o *Value[T]) Set(v T) {
	o.Update(func(T) T { return v })
}

// Update atomically derives the next value from the current one and notifies observers
// Update 基于当前值原子地计算新值并通知观察者
func (o *Value[T]) Update(fn func(current T) T) T {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	o.mu.Lock()
	next := fn(o.v)
	o.v = next
	subs := o.observers()
	o.mu.Unlock()

	for _, sub := range subs {
		sub(next)
	}
	return next
}

// Subscribe registers fn and returns a function that removes it
// Subscribe 注册观察者 fn，返回取消订阅函数
func (o *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.next
	o.next++
	o.subs[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}
}

// observers returns subscribers in registration order; caller holds o.mu
func (o *Value[T]) observers() []func(T) {
	if len(o.subs) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(o.subs))
	for id := range o.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	subs := make([]func(T), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, o.subs[id])
	}
	return subs
}
