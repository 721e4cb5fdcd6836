package queue

import (
	"context"
	"errors"
	"sync"

	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/internal/services/dispatch"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

var (
	ErrNotFound     = errors.New("notification not found")
	ErrWrongState   = errors.New("notification is not in a state that allows this")
	ErrInvalidInput = errors.New("invalid queue input")
)

type Config struct {
	BatchSize int
	Workers   int
}

// Recorder receives delivery outcomes for analytics. A small interface
// keeps the queue from depending on the analytics package; errors are
// the recorder's problem, a lost fact must not fail the delivery.
type Recorder interface {
	RecordDelivery(ctx context.Context, n *notify.Notification, results []notify.DeliveryResult)
}

// ProcessStats summarizes one processing run.
type ProcessStats struct {
	Selected int
	Claimed  int
	Sent     int
	Failed   int
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store      storage.Store
	dispatcher *dispatch.Dispatcher
	bus        eventbus.Bus
	recorder   Recorder
	log        logx.Logger
}
