package parley

import (
	"context"
	"log/slog"
	"time"
)

// CheckTimers computes the status a room should transition to at the given
// instant, based on its timer configuration and last activity. It is a
// pure function; the TimerTicker (or a host cron) applies the result.
// Returns the current status when no transition is due.
func CheckTimers(room Room, now int64) RoomStatus {
	if room.Status == RoomClosed || room.Status == RoomArchived {
		return room.Status
	}
	idle := now - room.UpdatedAt
	if room.Timers.ClosedAfter > 0 && idle >= room.Timers.ClosedAfter {
		return RoomClosed
	}
	if room.Timers.InactiveAfter > 0 && idle >= room.Timers.InactiveAfter {
		if room.Status == RoomActive {
			return RoomPaused
		}
	}
	return room.Status
}

// tickerConfig holds options accumulated by TimerOption calls.
type tickerConfig struct {
	interval time.Duration
	logger   *slog.Logger
}

// TimerOption configures a TimerTicker.
type TimerOption func(*tickerConfig)

// WithTimerInterval sets the polling interval. Default: 1 minute.
func WithTimerInterval(d time.Duration) TimerOption {
	return func(c *tickerConfig) { c.interval = d }
}

// WithTimerLogger sets the structured logger. Defaults to discard.
func WithTimerLogger(l *slog.Logger) TimerOption {
	return func(c *tickerConfig) { c.logger = l }
}

// TimerTicker polls rooms and applies due timer transitions (inactivity
// pause, automatic close). The pipeline itself never drives timers; run
// one ticker per deployment next to the Orchestrator.
//
// Usage:
//
//	ticker := parley.NewTimerTicker(orch, parley.WithTimerInterval(time.Minute))
//	g.Go(func() error { return ticker.Start(ctx) })
type TimerTicker struct {
	orch     *Orchestrator
	interval time.Duration
	logger   *slog.Logger
}

// NewTimerTicker creates a ticker over the orchestrator's rooms.
func NewTimerTicker(orch *Orchestrator, opts ...TimerOption) *TimerTicker {
	cfg := tickerConfig{
		interval: time.Minute,
		logger:   nopLogger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TimerTicker{orch: orch, interval: cfg.interval, logger: cfg.logger}
}

// Start begins the polling loop. Blocks until ctx is cancelled.
// Returns nil on clean shutdown.
func (t *TimerTicker) Start(ctx context.Context) error {
	for {
		t.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(t.interval):
		}
	}
}

// tick performs one poll cycle over all non-closed rooms.
func (t *TimerTicker) tick(ctx context.Context) {
	now := NowUnix()
	for _, status := range []RoomStatus{RoomActive, RoomPaused} {
		rooms, err := t.orch.Store().ListRooms(ctx, status, 0)
		if err != nil {
			t.logger.Error("timer tick: list rooms failed", "status", string(status), "error", err)
			return
		}
		for _, room := range rooms {
			if ctx.Err() != nil {
				return
			}
			t.apply(ctx, room, now)
		}
	}
}

func (t *TimerTicker) apply(ctx context.Context, room Room, now int64) {
	next := CheckTimers(room, now)
	if next == room.Status {
		return
	}
	switch next {
	case RoomClosed:
		if err := t.orch.CloseRoom(ctx, room.ID); err != nil {
			t.logger.Error("timer close failed", "room_id", room.ID, "error", err)
		}
	case RoomPaused:
		room.Status = RoomPaused
		if err := t.orch.Store().UpdateRoom(ctx, room); err != nil {
			t.logger.Error("timer pause failed", "room_id", room.ID, "error", err)
			return
		}
		t.logger.Info("room paused by inactivity timer", "room_id", room.ID)
	}
}
