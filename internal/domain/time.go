package domain

import "time"

// Timestamp is a point on a session's strictly monotonic virtual timeline,
// nanosecond resolution. The epoch is implementation-defined but stable
// within one session — callers should only compare two Timestamps produced
// by the same session.
type Timestamp = time.Time
