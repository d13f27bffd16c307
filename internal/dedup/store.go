// Package dedup provides per-strategy cooldown suppression and
// per-day pattern-alert dedup, with a daily ET reset and optional
// persistence across restarts.
package dedup

import (
	"log"
	"sync"
	"time"

	"optionflow-scanner/internal/bar"
	"optionflow-scanner/internal/store"
)

// DefaultCooldownTTL is the per-strategy repeat-alert suppression
// window.
const DefaultCooldownTTL = 4 * time.Hour

// Store holds both dedup maps:
//   - cooldowns: a TTL-based suppression map keyed on
//     (underlying, kind, strike, expiration) for flow alerts.
//   - dayKeys: a per-trading-date suppression set keyed on
//     (symbol, pattern_name, timeframe, trading_date_ET) for pattern
//     alerts, reset whenever the ET calendar date rolls over.
//
// If persisted is nil (no DATABASE_URL, or the embedded store failed
// to open) the Store runs in-memory only.
type Store struct {
	mu            sync.Mutex
	cooldowns     map[string]time.Time
	dayKeys       map[string]struct{}
	lastResetDate string

	cooldownTTL time.Duration
	persisted   *store.Store
}

func New(persisted *store.Store, cooldownTTL time.Duration) *Store {
	s := &Store{
		cooldowns:   make(map[string]time.Time),
		dayKeys:     make(map[string]struct{}),
		cooldownTTL: cooldownTTL,
		persisted:   persisted,
	}
	s.lastResetDate = currentETDate()
	if err := s.rehydrate(); err != nil {
		log.Printf("⚠️  dedup: failed to rehydrate from persisted store: %v", err)
	}
	return s
}

func currentETDate() string {
	return time.Now().In(bar.ET).Format("2006-01-02")
}

// rehydrate loads today's previously-recorded pattern dedup keys from
// the persisted store, so a process restart mid-day doesn't re-emit
// an already-posted alert.
func (s *Store) rehydrate() error {
	if s.persisted == nil {
		return nil
	}
	// Truncate rounds the absolute instant, not the ET wall clock, so
	// build ET midnight explicitly.
	now := time.Now().In(bar.ET)
	startOfDayET := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, bar.ET)
	keys, err := s.persisted.RecentAlertKeys(startOfDayET.UTC())
	if err != nil {
		return err
	}
	for _, k := range keys {
		s.dayKeys[k] = struct{}{}
	}
	return nil
}

func (s *Store) maybeResetLocked() {
	today := currentETDate()
	if today != s.lastResetDate {
		s.dayKeys = make(map[string]struct{})
		s.lastResetDate = today
	}
}

// AllowCooldown reports whether key may fire now, and if so records
// the firing time. Reads and writes are serialized by the store-wide
// mutex.
func (s *Store) AllowCooldown(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeResetLocked()

	last, ok := s.cooldowns[key]
	if ok && time.Since(last) < s.cooldownTTL {
		return false
	}
	s.cooldowns[key] = time.Now()
	return true
}

// AllowPattern reports whether the pattern dedup key may fire today,
// consulting the persisted store as a backstop in case the in-memory
// map was not rehydrated (e.g. loading recent keys failed when the
// Store was constructed). On success, marks the key used for the rest
// of the ET trading date.
func (s *Store) AllowPattern(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeResetLocked()

	if _, ok := s.dayKeys[key]; ok {
		return false
	}
	if s.persisted != nil {
		if has, err := s.persisted.HasAlert(key); err == nil && has {
			s.dayKeys[key] = struct{}{}
			return false
		}
	}
	s.dayKeys[key] = struct{}{}
	return true
}
