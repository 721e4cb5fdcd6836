// Package preference manages per-user notification settings.
//
// Users get a permissive default row on first access: every channel and
// category enabled, quiet hours off, 10 notifications per hour and 50 per
// day. Updates are partial and whitelisted through
// notify.PreferenceUpdate; anything not in that struct cannot be written.
package preference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

var (
	ErrNoValidFields = errors.New("no valid preference fields in update")
	ErrInvalidField  = errors.New("invalid preference value")
)

type Service struct {
	store storage.Store
	log   logx.Logger

	// onChange fires after a successful update or reset, with the user ID.
	// The engine uses it to kick a behavior recompute.
	onChange func(userID int64)
}

func New(store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log}
}

// OnChange registers a callback invoked after every successful settings
// change. Must be called before the service is shared across goroutines.
func (s *Service) OnChange(fn func(userID int64)) { s.onChange = fn }

// Get returns the user's preferences, inserting defaults on first access.
func (s *Service) Get(ctx context.Context, userID int64) (*notify.Preference, error) {
	p, err := s.store.GetPreference(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	p, err = s.store.InsertDefaultPreference(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.log.Debug("default preferences created", logx.Int64("user", userID))
	return p, nil
}

// Update applies the non-nil fields of u. Returns ErrNoValidFields when
// nothing in the update is set, so a caller sending junk keys learns that
// nothing happened instead of getting a silent success.
func (s *Service) Update(ctx context.Context, userID int64, u *notify.PreferenceUpdate) (*notify.Preference, error) {
	if u.Empty() {
		return nil, ErrNoValidFields
	}
	if err := validateUpdate(u); err != nil {
		return nil, err
	}
	// Ensure the row exists so the update lands on defaults.
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePreference(ctx, userID, u); err != nil {
		return nil, err
	}
	s.log.Info("preferences updated", logx.Int64("user", userID))
	if s.onChange != nil {
		s.onChange(userID)
	}
	return s.store.GetPreference(ctx, userID)
}

// Reset drops the user's row so the next access recreates defaults.
func (s *Service) Reset(ctx context.Context, userID int64) (*notify.Preference, error) {
	if err := s.store.ResetPreference(ctx, userID); err != nil {
		return nil, err
	}
	s.log.Info("preferences reset", logx.Int64("user", userID))
	if s.onChange != nil {
		s.onChange(userID)
	}
	return s.Get(ctx, userID)
}

func validateUpdate(u *notify.PreferenceUpdate) error {
	if u.QuietHoursStart != nil {
		if err := validateClock(*u.QuietHoursStart); err != nil {
			return err
		}
	}
	if u.QuietHoursEnd != nil {
		if err := validateClock(*u.QuietHoursEnd); err != nil {
			return err
		}
	}
	if u.QuietHoursTimezone != nil {
		if _, err := time.LoadLocation(*u.QuietHoursTimezone); err != nil {
			return fmt.Errorf("%w: timezone %q", ErrInvalidField, *u.QuietHoursTimezone)
		}
	}
	if u.MaxPerHour != nil && *u.MaxPerHour < 0 {
		return fmt.Errorf("%w: max_per_hour must be >= 0", ErrInvalidField)
	}
	if u.MaxPerDay != nil && *u.MaxPerDay < 0 {
		return fmt.Errorf("%w: max_per_day must be >= 0", ErrInvalidField)
	}
	return nil
}

func validateClock(v string) error {
	if _, err := time.Parse("15:04", v); err != nil {
		return fmt.Errorf("%w: clock value %q (want HH:MM)", ErrInvalidField, v)
	}
	return nil
}
