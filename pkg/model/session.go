package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle status of one sync cycle.
type SessionStatus string

const (
	SessionPending        SessionStatus = "pending"
	SessionRunning        SessionStatus = "running"
	SessionCompleted      SessionStatus = "completed"
	SessionFailed         SessionStatus = "failed"
	SessionTimedOut       SessionStatus = "timed_out"
	SessionPartialSuccess SessionStatus = "partial_success"
)

// Session records the outcome of a single sync cycle. It is the only
// externally observable failure signal; once finalized it is never mutated.
type Session struct {
	ID                uuid.UUID     `json:"id"`
	StartedAt         time.Time     `json:"startedAt"`
	FinishedAt        time.Time     `json:"finishedAt"`
	Status            SessionStatus `json:"status"`
	ProductsProcessed int           `json:"productsProcessed"`
	ProductsFailed    int           `json:"productsFailed"`
	Errors            []string      `json:"errors,omitempty"`
}

// Terminal reports whether the session has reached a final status.
func (s *Session) Terminal() bool {
	switch s.Status {
	case SessionCompleted, SessionFailed, SessionTimedOut, SessionPartialSuccess:
		return true
	}
	return false
}
