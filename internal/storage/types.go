package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row the caller named does not exist
	// (or is not in a state the operation accepts).
	ErrNotFound = errors.New("storage: not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the only supported driver)
//
// An empty driver defaults to "sqlite".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// EngagementSummary aggregates a user's analytics over a trailing window.
type EngagementSummary struct {
	Total        int     `json:"total"`
	Delivered    int     `json:"delivered"`
	Opened       int     `json:"opened"`
	Clicked      int     `json:"clicked"`
	Dismissed    int     `json:"dismissed"`
	AvgScore     float64 `json:"avg_score"`
	DeliveryRate float64 `json:"delivery_rate"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
	DismissRate  float64 `json:"dismiss_rate"`
}
