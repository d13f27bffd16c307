// Package store implements the optional persisted state layout:
// bars, classified_bars, patterns, alerts, job_runs. Backed by an
// embedded pure-Go SQLite driver; the one hard durability need is
// pattern-alert dedup across restarts.
package store

import "time"

// BarRecord is one persisted OHLCV bar, unique per
// (symbol, timeframe, start_utc).
type BarRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Symbol    string    `gorm:"size:16;not null;uniqueIndex:idx_bars_symbol_tf_start"`
	Timeframe string    `gorm:"size:8;not null;uniqueIndex:idx_bars_symbol_tf_start"`
	StartUTC  time.Time `gorm:"not null;uniqueIndex:idx_bars_symbol_tf_start"`
	EndUTC    time.Time `gorm:"not null"`
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

func (BarRecord) TableName() string { return "bars" }

// ClassifiedBar records the STRAT type assigned to a bar and the bar
// it was classified against.
type ClassifiedBar struct {
	ID            uint `gorm:"primaryKey"`
	BarID         uint `gorm:"not null;index"`
	Type          string `gorm:"size:4;not null"`
	PreviousBarID *uint
}

func (ClassifiedBar) TableName() string { return "classified_bars" }

// Pattern is a persisted Pattern Detection Record.
type Pattern struct {
	ID                    uint      `gorm:"primaryKey"`
	Symbol                string    `gorm:"size:16;not null;index"`
	PatternType           string    `gorm:"size:32;not null"`
	Timeframe             string    `gorm:"size:8;not null"`
	CompletionBarStartUTC time.Time `gorm:"not null"`
	Direction             string    `gorm:"size:8;not null"`
	Entry                 float64
	Stop                  float64
	Target                float64
	Confidence            float64
	MetaJSON              string `gorm:"type:text"`
	CreatedAt             time.Time
}

func (Pattern) TableName() string { return "patterns" }

// AlertRecord is one persisted webhook alert; DedupKey is unique so a
// second insert attempt on the same key fails and is treated as
// already-suppressed.
type AlertRecord struct {
	ID          uint `gorm:"primaryKey"`
	PatternID   *uint
	Symbol      string    `gorm:"size:16;not null"`
	PatternType string    `gorm:"size:32;not null"`
	Timeframe   string    `gorm:"size:8"`
	AlertTSUTC  time.Time `gorm:"not null"`
	PayloadJSON string    `gorm:"type:text"`
	DedupKey    string    `gorm:"size:160;uniqueIndex;not null"`
}

func (AlertRecord) TableName() string { return "alerts" }

// JobRun accounts for one scanner worker iteration, for the
// supervisor's health/metrics surface.
type JobRun struct {
	ID             uint `gorm:"primaryKey"`
	JobType        string `gorm:"size:32;not null"`
	StartedAt      time.Time
	EndedAt        *time.Time
	SymbolsScanned int
	PatternsFound  int
	AlertsSent     int
	ErrorsJSON     string `gorm:"type:text"`
	Status         string `gorm:"size:16"`
}

func (JobRun) TableName() string { return "job_runs" }
