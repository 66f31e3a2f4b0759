package models

import (
	"time"
)

// JobStatus is the lifecycle state of a conversion job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// FailureKind is the sub-kind of a failed conversion, shown to callers verbatim.
type FailureKind string

const (
	FailureUnsupported      FailureKind = "unsupported"
	FailureCorrupt          FailureKind = "corrupt"
	FailureResourceExceeded FailureKind = "resource_exceeded"
	FailureTimeout          FailureKind = "timeout"
	FailureInternal         FailureKind = "internal"
	FailureCancelled        FailureKind = "cancelled"
)

// Retryable reports whether the engine may run another attempt after this kind.
func (k FailureKind) Retryable() bool {
	return k == FailureInternal
}

// ErrorDetail is present iff the job failed.
type ErrorDetail struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// InputRef points at an uploaded input held in the input store.
type InputRef struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// ArtifactRef points at the output of a succeeded job.
type ArtifactRef struct {
	JobID     string    `json:"jobId"`
	Key       string    `json:"key"`
	MimeType  string    `json:"mimeType"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the artifact is past its retention at now.
func (a ArtifactRef) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

type Job struct {
	ID              string         `json:"id"`
	ToolID          string         `json:"toolId"`
	Inputs          []InputRef     `json:"inputs"`
	Options         map[string]any `json:"options"`
	Status          JobStatus      `json:"status"`
	Progress        int            `json:"progress"`
	Error           *ErrorDetail   `json:"error,omitempty"`
	Artifact        *ArtifactRef   `json:"artifact,omitempty"`
	Attempts        int            `json:"attempts"`
	CancelRequested bool           `json:"cancelRequested"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	FinishedAt      *time.Time     `json:"finishedAt,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Inputs = append([]InputRef(nil), j.Inputs...)
	if j.Options != nil {
		c.Options = make(map[string]any, len(j.Options))
		for k, v := range j.Options {
			c.Options[k] = v
		}
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.Artifact != nil {
		a := *j.Artifact
		c.Artifact = &a
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// ProgressUpdate is what subscribers of a job receive.
type ProgressUpdate struct {
	JobID    string       `json:"jobId"`
	Status   JobStatus    `json:"status"`
	Progress int          `json:"progress"`
	Error    *ErrorDetail `json:"error,omitempty"`
	At       time.Time    `json:"at"`
}

// Update builds the progress update describing j's current state.
func (j *Job) Update() ProgressUpdate {
	return ProgressUpdate{
		JobID:    j.ID,
		Status:   j.Status,
		Progress: j.Progress,
		Error:    j.Error,
		At:       j.UpdatedAt,
	}
}
