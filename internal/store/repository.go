package store

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps the embedded GORM connection. A nil *Store is valid
// and every method on it no-ops: when DATABASE_URL is unset, or
// opening the embedded file fails, the caller falls back to
// in-memory dedup with a logged warning.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if absent) the embedded SQLite database at
// path and runs InitSchema. Returns (nil, err) on failure; callers
// should fall back to in-memory operation rather than treat this as
// fatal; persistence is optional.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, nil
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.InitSchema(); err != nil {
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	log.Printf("✅ persisted state store opened at %s", path)
	return s, nil
}

// InitSchema auto-migrates every table in the persisted state layout.
func (s *Store) InitSchema() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.AutoMigrate(&BarRecord{}, &ClassifiedBar{}, &Pattern{}, &AlertRecord{}, &JobRun{})
}

// SaveBar upserts one bar on its unique (symbol, timeframe,
// start_utc) key and returns the row id for classified-bar linkage.
func (s *Store) SaveBar(b BarRecord) (uint, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	err := s.db.Where(BarRecord{Symbol: b.Symbol, Timeframe: b.Timeframe, StartUTC: b.StartUTC}).
		Assign(b).
		FirstOrCreate(&b).Error
	if err != nil {
		return 0, fmt.Errorf("SaveBar: %w", err)
	}
	return b.ID, nil
}

// SaveClassifiedBar upserts the STRAT type assigned to a bar; one
// classification row per bar id.
func (s *Store) SaveClassifiedBar(c ClassifiedBar) error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Where(ClassifiedBar{BarID: c.BarID}).
		Assign(c).
		FirstOrCreate(&c).Error
	if err != nil {
		return fmt.Errorf("SaveClassifiedBar: %w", err)
	}
	return nil
}

func (s *Store) SavePattern(p Pattern) (uint, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if err := s.db.Create(&p).Error; err != nil {
		return 0, fmt.Errorf("SavePattern: %w", err)
	}
	return p.ID, nil
}

// ErrDuplicateAlert is returned by SaveAlert when dedup_key already
// exists; the caller treats this identically to an in-memory dedup
// hit.
var ErrDuplicateAlert = errors.New("store: alert already recorded for dedup key")

func (s *Store) SaveAlert(a AlertRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Create(&a).Error
	if err != nil {
		// SQLite reports unique violations as a generic error string,
		// so a failed create is reported as a duplicate only when a row
		// with this dedup_key already exists; any other failure is
		// returned as an error.
		var existing AlertRecord
		if lookErr := s.db.Where("dedup_key = ?", a.DedupKey).First(&existing).Error; lookErr == nil {
			return ErrDuplicateAlert
		}
		return fmt.Errorf("SaveAlert: %w", err)
	}
	return nil
}

// HasAlert reports whether dedupKey has already been recorded. The
// dedup store consults it on each pattern check as a backstop to its
// in-memory map.
func (s *Store) HasAlert(dedupKey string) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	var count int64
	if err := s.db.Model(&AlertRecord{}).Where("dedup_key = ?", dedupKey).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecentAlertKeys returns every dedup_key recorded since since, used
// to rehydrate the dedup store's per-day pattern-key map at startup.
func (s *Store) RecentAlertKeys(since time.Time) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var keys []string
	err := s.db.Model(&AlertRecord{}).Where("alert_tsutc >= ?", since).Pluck("dedup_key", &keys).Error
	return keys, err
}

func (s *Store) StartJobRun(jobType string) (uint, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	run := JobRun{JobType: jobType, StartedAt: time.Now().UTC(), Status: "running"}
	if err := s.db.Create(&run).Error; err != nil {
		return 0, err
	}
	return run.ID, nil
}

func (s *Store) FinishJobRun(id uint, symbolsScanned, patternsFound, alertsSent int, errorsJSON, status string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.db.Model(&JobRun{}).Where("id = ?", id).Updates(map[string]any{
		"ended_at":        &now,
		"symbols_scanned": symbolsScanned,
		"patterns_found":  patternsFound,
		"alerts_sent":     alertsSent,
		"errors_json":     errorsJSON,
		"status":          status,
	}).Error
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
