package storage

// Package storage is the persistence layer for the notification engine.
//
// It holds the point of truth for the queue lifecycle plus the supporting
// entities around it:
//   - Notification queue rows (queued/processing/sent/failed/... lifecycle)
//   - Per-user notification preferences (auto-created with defaults)
//   - Versioned notification templates
//   - Append-only engagement analytics
//   - Derived per-user behavior profiles (wholesale upsert)
//
// The claim step (queued -> processing) is a single conditional UPDATE so
// two concurrent processors can never own the same row.
