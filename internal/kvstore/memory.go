package kvstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Memory is a process-local Store, grounded on the teacher's
// ComplianceEngine/AdaptiveRateLimiter map-with-mutex-and-opportunistic-sweep
// pattern (internal/procurement/scraping/compliance.go, rate_limiter.go).
// It is the default backend for tests and single-process deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	sets    map[string]map[string]struct{}
	lists   map[string][][]byte
	zsets   map[string]map[string]float64
	subs    map[string][]*memSub
}

type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*entry),
		sets:    make(map[string]map[string]struct{}),
		lists:   make(map[string][][]byte),
		zsets:   make(map[string]map[string]float64),
		subs:    make(map[string][]*memSub),
	}
}

func ttlToExpiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		if ok {
			delete(m.entries, key)
		}
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &entry{value: append([]byte(nil), value...), expires: ttlToExpiry(ttl)}
	return nil
}

func (m *Memory) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	m.entries[key] = &entry{value: append([]byte(nil), value...), expires: ttlToExpiry(ttl)}
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
		delete(m.sets, k)
		delete(m.lists, k)
		delete(m.zsets, k)
	}
	return nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		e.expires = ttlToExpiry(ttl)
	}
	return nil
}

func (m *Memory) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cur int64
	if e, ok := m.entries[key]; ok && !e.expired(time.Now()) {
		cur = bytesToInt64(e.value)
	}
	cur += delta
	m.entries[key] = &entry{value: int64ToBytes(cur)}
	return cur, nil
}

func (m *Memory) SAdd(ctx context.Context, key string, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	if _, exists := set[member]; exists {
		return false, nil
	}
	set[member] = struct{}{}
	return true, nil
}

func (m *Memory) SRem(ctx context.Context, key string, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.sets[key]; ok {
		delete(set, member)
	}
	return nil
}

func (m *Memory) SCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[key])), nil
}

func (m *Memory) SIsMember(ctx context.Context, key string, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *Memory) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) LPush(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append([][]byte{append([]byte(nil), value...)}, m.lists[key]...)
	return nil
}

func (m *Memory) RPush(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], append([]byte(nil), value...))
	return nil
}

func (m *Memory) LPop(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	v := list[0]
	m.lists[key] = list[1:]
	return v, nil
}

func (m *Memory) RPop(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	v := list[len(list)-1]
	m.lists[key] = list[:len(list)-1]
	return v, nil
}

func (m *Memory) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	n := int64(len(list))
	if n == 0 {
		return nil, nil
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		out = append(out, append([]byte(nil), list[i]...))
	}
	return out, nil
}

func (m *Memory) LLen(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func (m *Memory) ZAdd(ctx context.Context, key string, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (m *Memory) ZRem(ctx context.Context, key string, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.zsets[key], member)
	return nil
}

func (m *Memory) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type pair struct {
		member string
		score  float64
	}
	var pairs []pair
	for member, score := range m.zsets[key] {
		if score >= min && score <= max {
			pairs = append(pairs, pair{member, score})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.member
	}
	return out, nil
}

func (m *Memory) ZCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

type memSub struct {
	ch     chan []byte
	closed bool
}

func (s *memSub) Messages() <-chan []byte { return s.ch }
func (s *memSub) Close() error            { return nil }

func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	subs := append([]*memSub(nil), m.subs[channel]...)
	m.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- append([]byte(nil), payload...):
		default:
			log.Warn().Str("channel", channel).Msg("kvstore: subscriber buffer full, dropping message")
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &memSub{ch: make(chan []byte, 16)}
	m.subs[channel] = append(m.subs[channel], s)
	return s, nil
}

func (m *Memory) Health(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// SweepExpired removes entries whose TTL has passed, mirroring the
// teacher's ClearExpiredCache opportunistic sweep. Safe to call
// periodically from the Scheduler's cron sweeper (spec §4.6).
func (m *Memory) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	cleared := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			cleared++
		}
	}
	return cleared
}

func int64ToBytes(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}

func bytesToInt64(b []byte) int64 {
	v, _ := strconv.ParseInt(string(b), 10, 64)
	return v
}
