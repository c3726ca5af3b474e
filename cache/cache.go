// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

// Package cache implements the capacity-limited key/value store shared by the
// engine tables (USM timeline, discovered engines).
package cache

import (
	"sort"
)

// DefaultCapacity is used when New is called with a non-positive capacity.
const DefaultCapacity = 256

type entry[V any] struct {
	value V
	hits  uint64
	seq   uint64
}

// Cache is a bounded map with approximate-LRU eviction.
//
// Every successful Get increments the access counter of the entry. When a Put of
// a new key would exceed the capacity, the ceil(N/10) entries (at least one)
// with the lowest access counters are removed first. Ties go to the oldest
// insertion. Counters of the surviving entries are left untouched.
//
// Cache is not safe for concurrent use; the owner serializes access.
type Cache[K comparable, V any] struct {
	capacity int
	seq      uint64
	items    map[K]*entry[V]
}

// New creates a cache holding at most capacity entries.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[K, V]{
		capacity: capacity,
		items:    make(map[K]*entry[V], capacity),
	}
}

// Capacity returns the configured maximum number of entries.
func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}

// Put inserts or replaces the value stored under key. Replacing keeps the
// access counter of the existing entry.
func (c *Cache[K, V]) Put(key K, value V) {
	if e, ok := c.items[key]; ok {
		e.value = value
		return
	}
	if len(c.items)+1 > c.capacity {
		c.evict()
	}
	c.seq++
	c.items[key] = &entry[V]{value: value, seq: c.seq}
}

// Get returns the value stored under key and counts the access.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	e.hits++
	return e.value, true
}

// Peek returns the value without counting the access.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key. Deleting a missing key is a no-op.
func (c *Cache[K, V]) Delete(key K) {
	delete(c.items, key)
}

// Len returns the number of stored entries.
func (c *Cache[K, V]) Len() int {
	return len(c.items)
}

// Keys returns the stored keys in insertion order.
func (c *Cache[K, V]) Keys() []K {
	keys := make([]K, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.items[keys[i]].seq < c.items[keys[j]].seq
	})
	return keys
}

// Range calls fn for every entry in insertion order until fn returns false.
// Range does not count accesses.
func (c *Cache[K, V]) Range(fn func(key K, value V) bool) {
	for _, k := range c.Keys() {
		if !fn(k, c.items[k].value) {
			return
		}
	}
}

// evictCount returns ceil(capacity/10) with a floor of one.
func (c *Cache[K, V]) evictCount() int {
	n := (c.capacity + 9) / 10
	if n < 1 {
		n = 1
	}
	return n
}

func (c *Cache[K, V]) evict() {
	keys := make([]K, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.items[keys[i]], c.items[keys[j]]
		if a.hits != b.hits {
			return a.hits < b.hits
		}
		return a.seq < b.seq
	})
	n := c.evictCount()
	if n > len(keys) {
		n = len(keys)
	}
	for _, k := range keys[:n] {
		delete(c.items, k)
	}
}
