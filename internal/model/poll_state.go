package model

import "time"

// Status is the lifecycle state of a poll.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// PollState is a snapshot of a watcher's accumulated results.
type PollState struct {
	LastKnownBlock uint64
	Records        []LogRecord
	Status         Status
	Err            error
	UpdatedAt      time.Time
}

// IsLoading reports whether a fetch is in flight.
func (s PollState) IsLoading() bool {
	return s.Status == StatusLoading
}

// IsError reports whether the last fetch failed.
func (s PollState) IsError() bool {
	return s.Status == StatusError
}
