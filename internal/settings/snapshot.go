package settings

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"
)

// snapshot holds the in-memory settings values.
type snapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

// globalSnapshot stores the latest snapshot atomically.
var globalSnapshot atomic.Value // stores snapshot

func init() {
	globalSnapshot.Store(snapshot{values: map[string]json.RawMessage{}})
}

// Store replaces the in-memory snapshot.
func Store(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		if v == nil {
			next[key] = nil
			continue
		}
		copied := make([]byte, len(v))
		copy(copied, v)
		next[key] = copied
	}
	globalSnapshot.Store(snapshot{updatedAt: updatedAt.UTC(), values: next})
}

// UpdatedAt returns the last snapshot refresh timestamp.
func UpdatedAt() time.Time {
	return load().updatedAt
}

// Value returns a copy of the raw value for a key.
func Value(key string) (json.RawMessage, bool) {
	current := load()
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	val, ok := current.values[key]
	if !ok {
		return nil, false
	}
	if val == nil {
		return nil, true
	}
	copied := make([]byte, len(val))
	copy(copied, val)
	return copied, true
}

// Float returns a numeric setting, falling back when absent or malformed.
func Float(key string, fallback float64) float64 {
	raw, ok := Value(key)
	if !ok || len(raw) == 0 {
		return fallback
	}
	var value float64
	if errUnmarshal := json.Unmarshal(raw, &value); errUnmarshal != nil {
		return fallback
	}
	return value
}

// Int returns an integer setting, falling back when absent or malformed.
func Int(key string, fallback int) int {
	raw, ok := Value(key)
	if !ok || len(raw) == 0 {
		return fallback
	}
	var value int
	if errUnmarshal := json.Unmarshal(raw, &value); errUnmarshal != nil {
		return fallback
	}
	return value
}

// DefaultPricePer1K returns the runtime default price, preferring the
// database setting over the configured fallback.
func DefaultPricePer1K(fallback float64) float64 {
	return Float(DefaultPricePer1KKey, fallback)
}

// UsageRetentionDays returns the usage ledger retention period in days.
func UsageRetentionDays(fallback int) int {
	days := Int(UsageRetentionDaysKey, fallback)
	if days <= 0 {
		return fallback
	}
	return days
}

func load() snapshot {
	v := globalSnapshot.Load()
	current, ok := v.(snapshot)
	if !ok {
		return snapshot{values: map[string]json.RawMessage{}}
	}
	if current.values == nil {
		return snapshot{updatedAt: current.updatedAt, values: map[string]json.RawMessage{}}
	}
	return current
}
