package ports

import "github.com/marketsim/engine/internal/domain"

// EventCallback receives every outbound Event a session emits: fills,
// cancellations, expirations, account updates, and session status
// transitions. Callbacks run with the session's lock released, one
// subscriber after another, on the goroutine that emitted the event (the
// replay loop, or the API caller whose request produced it); a slow
// subscriber delays that goroutine and every subscriber after it.
type EventCallback func(domain.Event)

// PerformanceSink optionally persists equity snapshots as a session
// advances, e.g. to a reporting database; SessionManager builds one from
// each ACCOUNT_UPDATE event. Implementations must
// tolerate being nil (SessionManager treats a nil sink as "no-op").
type PerformanceSink interface {
	RecordSnapshot(sessionID string, snap domain.PerformanceSnapshot) error
	Close() error
}
