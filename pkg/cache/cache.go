// Package cache provides the in-memory keyspace behind the development store
// server, with Redis-compatible operations and type checking.
//
// Supported Data Types:
//   - Strings: Simple key-value pairs with optional TTL
//   - Hashes: Field-value mappings (like Redis hashes)
//   - Lists: Ordered collections with head/tail operations
//   - Sets: Unordered collections of unique members
//
// Operations against a key holding a different type fail with ErrWrongType,
// and arithmetic on a non-integer string fails with ErrNotInteger. The error
// text matches what a Redis server would send, so it can be relayed to
// clients unchanged.
//
// Example usage:
//
//	c := cache.New()
//	defer c.Close()
//
//	c.Set("user:123", "john_doe", time.Hour)
//	value, exists, err := c.Get("user:123")
//
//	added, err := c.HSet("user:123:profile", "name", "John Doe", "email", "john@example.com")
//	length, err := c.RPush("tasks", "task1", "task2", "task3")
//
// All operations are safe for concurrent use. Expired keys are invisible as
// soon as their deadline passes and are reclaimed by a background janitor.
package cache

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const janitorInterval = time.Minute

// Errors returned by typed operations.
var (
	ErrWrongType  = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	ErrNotInteger = errors.New("ERR value is not an integer or out of range")
)

// ValueType represents the type of data stored in a cache value.
type ValueType uint8

const (
	TypeString ValueType = iota // string
	TypeHash                    // map[string]string
	TypeList                    // []string
	TypeSet                     // map[string]struct{}
)

// Value represents a single cache entry with its data, type, and expiration.
type Value struct {
	Data      interface{} // The actual data (type depends on Type field)
	ExpiresAt time.Time   // When this value expires (zero means no expiration)
	Type      ValueType   // The type of data stored
}

// Cache provides thread-safe in-memory storage with Redis-compatible operations.
type Cache struct {
	data  map[string]*Value
	clock clockwork.Clock
	mu    sync.RWMutex
	stop  chan struct{}
	once  sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock used for expiration. Defaults to the real clock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// New creates a new Cache and starts the background expiration janitor.
// Call Close to stop the janitor.
func New(opts ...Option) *Cache {
	c := &Cache{
		data:  make(map[string]*Value),
		clock: clockwork.NewRealClock(),
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.cleanupExpired()
	return c
}

// Close stops the janitor. The cache remains usable.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// Closed reports whether Close has been called.
func (c *Cache) Closed() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Cache) cleanupExpired() {
	ticker := c.clock.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			c.mu.Lock()
			for key, value := range c.data {
				if c.isExpired(value) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *Cache) isExpired(value *Value) bool {
	return !value.ExpiresAt.IsZero() && !c.clock.Now().Before(value.ExpiresAt)
}

// live returns the unexpired entry for key, or nil.
func (c *Cache) live(key string) *Value {
	value, exists := c.data[key]
	if !exists || c.isExpired(value) {
		return nil
	}
	return value
}

// typed returns the unexpired entry for key if it holds want, nil if the key
// is absent, or ErrWrongType.
func (c *Cache) typed(key string, want ValueType) (*Value, error) {
	value := c.live(key)
	if value == nil {
		return nil, nil
	}
	if value.Type != want {
		return nil, ErrWrongType
	}
	return value, nil
}

// create is typed, but installs an empty entry made by init when key is absent.
func (c *Cache) create(key string, want ValueType, init func() interface{}) (*Value, error) {
	value, err := c.typed(key, want)
	if err != nil || value != nil {
		return value, err
	}
	value = &Value{Type: want, Data: init()}
	c.data[key] = value
	return value, nil
}

// dropIfEmpty removes a container key once its last element is gone.
func (c *Cache) dropIfEmpty(key string, size int) {
	if size == 0 {
		delete(c.data, key)
	}
}

// Get retrieves a string value. A missing key reports exists == false.
func (c *Cache) Get(key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, err := c.typed(key, TypeString)
	if err != nil || value == nil {
		return "", false, err
	}
	return value.Data.(string), true, nil
}

// Set stores a string value, replacing any existing value of any type.
// A positive ttl sets an expiration; zero stores the key without one.
func (c *Cache) Set(key, val string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value := &Value{Type: TypeString, Data: val}
	if ttl > 0 {
		value.ExpiresAt = c.clock.Now().Add(ttl)
	}
	c.data[key] = value
}

// Del removes keys and returns how many existed.
func (c *Cache) Del(keys ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	for _, key := range keys {
		if c.live(key) != nil {
			deleted++
		}
		delete(c.data, key)
	}
	return deleted
}

// Exists counts how many of keys exist. Repeated keys are counted each time.
func (c *Cache) Exists(keys ...string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, key := range keys {
		if c.live(key) != nil {
			count++
		}
	}
	return count
}

// IncrBy adds delta to the integer stored at key. A missing key counts as 0.
// The key's expiration, if any, is kept.
func (c *Cache) IncrBy(key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, err := c.typed(key, TypeString)
	if err != nil {
		return 0, err
	}
	if value == nil {
		c.data[key] = &Value{Type: TypeString, Data: strconv.FormatInt(delta, 10)}
		return delta, nil
	}

	current, err := strconv.ParseInt(value.Data.(string), 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	next := current + delta
	if (delta > 0 && next < current) || (delta < 0 && next > current) {
		return 0, ErrNotInteger
	}
	value.Data = strconv.FormatInt(next, 10)
	return next, nil
}

// Expire sets a timeout on an existing key. A non-positive ttl deletes it.
func (c *Cache) Expire(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	value := c.live(key)
	if value == nil {
		return false
	}
	if ttl <= 0 {
		delete(c.data, key)
		return true
	}
	value.ExpiresAt = c.clock.Now().Add(ttl)
	return true
}

// TTL returns the remaining time to live, -1s for a key without expiration,
// or -2s for a missing key.
func (c *Cache) TTL(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value := c.live(key)
	if value == nil {
		return -2 * time.Second
	}
	if value.ExpiresAt.IsZero() {
		return -1 * time.Second
	}
	return value.ExpiresAt.Sub(c.clock.Now())
}

// Persist removes the expiration from key. Reports whether one was removed.
func (c *Cache) Persist(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	value := c.live(key)
	if value == nil || value.ExpiresAt.IsZero() {
		return false
	}
	value.ExpiresAt = time.Time{}
	return true
}

// HGet retrieves a hash field.
func (c *Cache) HGet(key, field string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, err := c.typed(key, TypeHash)
	if err != nil || value == nil {
		return "", false, err
	}
	val, exists := value.Data.(map[string]string)[field]
	return val, exists, nil
}

// HSet sets field/value pairs and returns the number of fields that were
// newly created. pairs must have even length.
func (c *Cache) HSet(key string, pairs ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, err := c.create(key, TypeHash, func() interface{} { return make(map[string]string) })
	if err != nil {
		return 0, err
	}
	hash := value.Data.(map[string]string)
	added := 0
	for i := 0; i+1 < len(pairs); i += 2 {
		if _, exists := hash[pairs[i]]; !exists {
			added++
		}
		hash[pairs[i]] = pairs[i+1]
	}
	return added, nil
}

// HDel removes hash fields and returns how many existed.
func (c *Cache) HDel(key string, fields ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, err := c.typed(key, TypeHash)
	if err != nil || value == nil {
		return 0, err
	}
	hash := value.Data.(map[string]string)
	deleted := 0
	for _, field := range fields {
		if _, exists := hash[field]; exists {
			delete(hash, field)
			deleted++
		}
	}
	c.dropIfEmpty(key, len(hash))
	return deleted, nil
}

// HGetAll returns a copy of the hash. A missing key yields an empty map.
func (c *Cache) HGetAll(key string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, err := c.typed(key, TypeHash)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return map[string]string{}, nil
	}
	hash := value.Data.(map[string]string)
	result := make(map[string]string, len(hash))
	for k, v := range hash {
		result[k] = v
	}
	return result, nil
}

func newList() interface{} { return []string{} }

// LPush prepends values one at a time, so the last value ends up first.
// Returns the new list length.
func (c *Cache) LPush(key string, values ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, err := c.create(key, TypeList, newList)
	if err != nil {
		return 0, err
	}
	list := value.Data.([]string)
	head := make([]string, 0, len(values)+len(list))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, values[i])
	}
	value.Data = append(head, list...)
	return len(head) + len(list), nil
}

// RPush appends values and returns the new list length.
func (c *Cache) RPush(key string, values ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, err := c.create(key, TypeList, newList)
	if err != nil {
		return 0, err
	}
	list := append(value.Data.([]string), values...)
	value.Data = list
	return len(list), nil
}

// LPop removes and returns the first element.
func (c *Cache) LPop(key string) (string, bool, error) {
	return c.pop(key, true)
}

// RPop removes and returns the last element.
func (c *Cache) RPop(key string) (string, bool, error) {
	return c.pop(key, false)
}

func (c *Cache) pop(key string, head bool) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, err := c.typed(key, TypeList)
	if err != nil || value == nil {
		return "", false, err
	}
	list := value.Data.([]string)
	if len(list) == 0 {
		return "", false, nil
	}

	var result string
	if head {
		result, list = list[0], list[1:]
	} else {
		result, list = list[len(list)-1], list[:len(list)-1]
	}
	value.Data = list
	c.dropIfEmpty(key, len(list))
	return result, true, nil
}

// LLen returns the list length, 0 for a missing key.
func (c *Cache) LLen(key string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, err := c.typed(key, TypeList)
	if err != nil || value == nil {
		return 0, err
	}
	return len(value.Data.([]string)), nil
}

// LRange returns elements start through stop inclusive. Negative indexes
// count from the end, and out-of-range bounds are clamped.
func (c *Cache) LRange(key string, start, stop int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, err := c.typed(key, TypeList)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return []string{}, nil
	}
	list := value.Data.([]string)
	n := len(list)
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return []string{}, nil
	}
	return append([]string(nil), list[start:stop+1]...), nil
}

func newSet() interface{} { return make(map[string]struct{}) }

// SAdd adds members and returns how many were not already present.
func (c *Cache) SAdd(key string, members ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, err := c.create(key, TypeSet, newSet)
	if err != nil {
		return 0, err
	}
	set := value.Data.(map[string]struct{})
	added := 0
	for _, member := range members {
		if _, exists := set[member]; !exists {
			set[member] = struct{}{}
			added++
		}
	}
	return added, nil
}

// SRem removes members and returns how many were present.
func (c *Cache) SRem(key string, members ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, err := c.typed(key, TypeSet)
	if err != nil || value == nil {
		return 0, err
	}
	set := value.Data.(map[string]struct{})
	removed := 0
	for _, member := range members {
		if _, exists := set[member]; exists {
			delete(set, member)
			removed++
		}
	}
	c.dropIfEmpty(key, len(set))
	return removed, nil
}

// SMembers returns the members in no particular order.
func (c *Cache) SMembers(key string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, err := c.typed(key, TypeSet)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return []string{}, nil
	}
	set := value.Data.(map[string]struct{})
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	return members, nil
}

// SIsMember reports whether member is in the set.
func (c *Cache) SIsMember(key, member string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, err := c.typed(key, TypeSet)
	if err != nil || value == nil {
		return false, err
	}
	_, exists := value.Data.(map[string]struct{})[member]
	return exists, nil
}

// Len returns the number of live keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, value := range c.data {
		if !c.isExpired(value) {
			count++
		}
	}
	return count
}
