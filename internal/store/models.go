package store

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a download task.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusVerifying   Status = "verifying"
	StatusExtracting  Status = "extracting"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusExpired     Status = "expired"
)

var allStatuses = []Status{
	StatusQueued,
	StatusDownloading,
	StatusVerifying,
	StatusExtracting,
	StatusCompleted,
	StatusFailed,
	StatusExpired,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var inFlightStatuses = map[Status]struct{}{
	StatusDownloading: {},
	StatusVerifying:   {},
	StatusExtracting:  {},
}

// ParseStatus validates a raw status string.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.TrimSpace(strings.ToLower(value)))
	if _, ok := statusSet[status]; !ok {
		return "", fmt.Errorf("unknown task status %q", value)
	}
	return status, nil
}

// Terminal reports whether the status ends the task lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// InFlight reports whether a worker currently owns the task.
func (s Status) InFlight() bool {
	_, ok := inFlightStatuses[s]
	return ok
}

// Task is one persisted download request.
type Task struct {
	ID            string
	URI           string
	Checksum      string
	DestName      string
	Priority      int
	ExpireAt      *time.Time
	Extract       bool
	Status        Status
	RetryCount    int
	NextAttemptAt *time.Time
	ErrorMessage  string
	FinalPath     string
	CorrelationID string
	Archived      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExpiredBy reports whether the task's deadline has passed at the given time.
func (t *Task) ExpiredBy(now time.Time) bool {
	return t.ExpireAt != nil && !t.ExpireAt.After(now)
}

// Asset is one playable file registered in the media library.
type Asset struct {
	ID           string
	Path         string
	Checksum     string
	SizeBytes    int64
	Title        string
	AddedAt      time.Time
	SourceTaskID string
}

// HealthSummary aggregates task counts for status reports and diagnostics.
type HealthSummary struct {
	Total     int
	Queued    int
	InFlight  int
	Completed int
	Failed    int
	Expired   int
}
