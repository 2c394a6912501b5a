package domain

import "time"

// SessionStatus is a session's lifecycle state.
// CREATED -> RUNNING <-> PAUSED -> STOPPED|COMPLETED; ERROR is terminal
// from any state.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "CREATED"
	SessionRunning   SessionStatus = "RUNNING"
	SessionPaused    SessionStatus = "PAUSED"
	SessionStopped   SessionStatus = "STOPPED"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionError     SessionStatus = "ERROR"
)

// Terminal reports whether s ends a replay run: STOPPED, COMPLETED or ERROR.
// Only ERROR admits no further transition; a STOPPED session can be started
// again, and jump_to re-arms a STOPPED or COMPLETED one.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStopped, SessionCompleted, SessionError:
		return true
	default:
		return false
	}
}

// OverflowPolicy selects EventQueue behavior when the bounded queue is full.
type OverflowPolicy string

const (
	OverflowBlock      OverflowPolicy = "block"
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	OverflowDropNewest OverflowPolicy = "drop_newest"
)

// SessionConfig is the caller-supplied configuration validated and consumed
// by SessionManager.CreateSession.
type SessionConfig struct {
	Symbols        []string
	StartTime      time.Time
	EndTime        time.Time
	InitialCapital float64
	SpeedFactor    float64
	QueueCapacity  int
	OverflowPolicy OverflowPolicy

	Margin MarginPolicy
	Fees   FeeSchedule
	Impact ImpactPolicy

	// MarketHoursLocation names the IANA timezone ExecutionPolicy
	// classifies market hours against (default "America/New_York").
	MarketHoursLocation string
	// AllowExtendedHours permits REGULAR-session order types to also
	// match during PREMARKET/AFTERHOURS.
	AllowExtendedHours bool
}

// Validate checks the invariants create_session must enforce before
// allocating any engines.
func (c SessionConfig) Validate() *Error {
	const op = "domain.SessionConfig.Validate"
	if len(c.Symbols) == 0 {
		return NewError(KindInvalidInput, op, "symbols must be non-empty", nil)
	}
	if !c.StartTime.Before(c.EndTime) {
		return NewError(KindInvalidInput, op, "start must be before end", nil)
	}
	if c.SpeedFactor < 0 {
		return NewError(KindInvalidInput, op, "speed factor must be >= 0", nil)
	}
	return nil
}

// Snapshot is a read-only view of a session's current state, returned by
// get_session.
type Snapshot struct {
	ID              string
	Status          SessionStatus
	CurrentTime     time.Time
	EventsProcessed uint64
	EventsDropped   uint64
	Config          SessionConfig
}
