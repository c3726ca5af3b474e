// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package usm

import (
	"time"

	"github.com/OlegPowerC/powersnmpengine/cache"
)

// TimelineEntry is what a non-authoritative engine knows about the clock of
// a remote authoritative engine (RFC 3414 §2.3).
type TimelineEntry struct {
	Boots              uint32
	Time               uint32
	LatestReceivedTime uint32
	LastUpdate         int64 // unix seconds of the last accepted update
}

// Timeline keeps TimelineEntry values per remote engine ID. Entries are held
// in a bounded cache; a time-bucketed queue purges those not refreshed within
// the TTL. Not safe for concurrent use.
type Timeline struct {
	entries *cache.Cache[string, TimelineEntry]
	buckets map[int64][]string
	ttl     int64
}

// NewTimeline creates a timeline with the given capacity (<=0 means the cache
// default) and TTL (<=0 means DefaultTimelineTTL seconds).
func NewTimeline(capacity int, ttl time.Duration) *Timeline {
	t := &Timeline{
		entries: cache.New[string, TimelineEntry](capacity),
		buckets: make(map[int64][]string),
		ttl:     int64(ttl / time.Second),
	}
	if t.ttl <= 0 {
		t.ttl = DefaultTimelineTTL
	}
	return t
}

// Len returns the number of remote engines known.
func (t *Timeline) Len() int { return t.entries.Len() }

// Get returns the entry of engineID.
func (t *Timeline) Get(engineID []byte) (TimelineEntry, bool) {
	return t.entries.Get(string(engineID))
}

// Set overwrites the entry of engineID with freshly learned values.
func (t *Timeline) Set(engineID []byte, boots, engineTime uint32, now time.Time) {
	t.store(string(engineID), TimelineEntry{Boots: boots, Time: engineTime, LatestReceivedTime: engineTime, LastUpdate: now.Unix()})
}

func (t *Timeline) store(key string, e TimelineEntry) {
	t.entries.Put(key, e)
	due := e.LastUpdate + t.ttl
	t.buckets[due] = append(t.buckets[due], key)
}

// Delete forgets engineID.
func (t *Timeline) Delete(engineID []byte) {
	t.entries.Delete(string(engineID))
}

// Estimate returns the boots and the extrapolated time (time + idle) of
// engineID.
func (t *Timeline) Estimate(engineID []byte, now time.Time) (uint32, uint32, bool) {
	e, ok := t.entries.Get(string(engineID))
	if !ok {
		return 0, 0, false
	}
	idle := now.Unix() - e.LastUpdate
	if idle < 0 {
		idle = 0
	}
	est := int64(e.Time) + idle
	if est > MaxEngineBoots {
		est = MaxEngineBoots
	}
	return e.Boots, uint32(est), true
}

// Check applies the non-authoritative time-window rules of RFC 3414
// §3.2.7b to an authenticated message claiming (boots, engineTime). Newer
// values update the entry before the window test, so a sequence of
// non-decreasing pairs is always accepted.
func (t *Timeline) Check(engineID []byte, boots, engineTime uint32, now time.Time) error {
	if boots >= MaxEngineBoots {
		return ErrNotInTimeWindow
	}
	key := string(engineID)
	e, ok := t.entries.Get(key)
	if !ok {
		t.Set(engineID, boots, engineTime, now)
		return nil
	}
	if boots > e.Boots || (boots == e.Boots && engineTime > e.LatestReceivedTime) {
		e = TimelineEntry{Boots: boots, Time: engineTime, LatestReceivedTime: engineTime, LastUpdate: now.Unix()}
		t.store(key, e)
	}
	if boots < e.Boots {
		return ErrNotInTimeWindow
	}
	idle := now.Unix() - e.LastUpdate
	if idle < 0 {
		idle = 0
	}
	delta := idle + int64(e.Time) - int64(engineTime)
	if delta < 0 {
		delta = -delta
	}
	if delta > TimeWindow {
		return ErrNotInTimeWindow
	}
	return nil
}

// Expire removes the entries whose TTL ran out by now and returns how many
// were removed. Entries refreshed since being queued are kept.
func (t *Timeline) Expire(now time.Time) int {
	removed := 0
	ts := now.Unix()
	for due, keys := range t.buckets {
		if due > ts {
			continue
		}
		for _, k := range keys {
			e, ok := t.entries.Peek(k)
			if ok && e.LastUpdate+t.ttl <= ts {
				t.entries.Delete(k)
				removed++
			}
		}
		delete(t.buckets, due)
	}
	return removed
}
