package notify

// Package notify defines the core domain types shared by the notification
// engine: channels, priorities, categories, the queue row lifecycle, and
// the per-user preference and behavior records.
//
// It has no dependencies on storage or services so every layer can import it.
