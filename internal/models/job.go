package models

import (
	"time"
)

// JobStatus enumerates wiki generation lifecycle states as reported by the
// upstream backend. The proxy never invents transitions; these values are
// display and routing metadata only.
const (
	StatusPending             = "pending"
	StatusPreparingEmbeddings = "preparing_embeddings"
	StatusGeneratingStructure = "generating_structure"
	StatusGeneratingPages     = "generating_pages"
	StatusPaused              = "paused"
	StatusCompleted           = "completed"
	StatusPartiallyCompleted  = "partially_completed"
	StatusFailed              = "failed"
	StatusCancelled           = "cancelled"
)

// Generation phases tracked by Job.CurrentPhase.
const (
	PhaseEmbeddings = 0
	PhaseStructure  = 1
	PhasePages      = 2
)

// IsTerminal reports whether no further progress events are expected for the
// given status. A hard delete is only permitted from a terminal state.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the status is a non-terminal lifecycle state.
func IsActive(status string) bool {
	switch status {
	case StatusPending, StatusPreparingEmbeddings, StatusGeneratingStructure,
		StatusGeneratingPages, StatusPaused:
		return true
	}
	return false
}

// CanPause reports whether a pause request makes sense for the status.
// Upstream still has the final word; this only informs UI affordances.
func CanPause(status string) bool {
	switch status {
	case StatusPreparingEmbeddings, StatusGeneratingStructure, StatusGeneratingPages:
		return true
	}
	return false
}

// CanResume reports whether a resume request makes sense for the status.
func CanResume(status string) bool {
	return status == StatusPaused
}

// CanRetry reports whether a retry request makes sense for the status.
// Retry re-enters pending.
func CanRetry(status string) bool {
	switch status {
	case StatusFailed, StatusPartiallyCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanHardDelete reports whether a hard delete is permitted for the status.
func CanHardDelete(status string) bool {
	return IsTerminal(status)
}

// Job is the upstream's view of one wiki generation request. All progress
// fields are mutated exclusively by the backend; the proxy relays them.
type Job struct {
	ID              string     `json:"job_id"`
	RepoURL         string     `json:"repo_url"`
	RepoType        string     `json:"repo_type"`
	Owner           string     `json:"owner"`
	Repo            string     `json:"repo"`
	Provider        string     `json:"provider"`
	Model           string     `json:"model,omitempty"`
	Language        string     `json:"language"`
	IsComprehensive bool       `json:"is_comprehensive"`
	Status          string     `json:"status"`
	CurrentPhase    int        `json:"current_phase"`
	ProgressPercent float64    `json:"progress_percent"`
	TotalPages      int        `json:"total_pages"`
	CompletedPages  int        `json:"completed_pages"`
	FailedPages     int        `json:"failed_pages"`
	TotalTokensUsed int        `json:"total_tokens_used"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// ProgressEvent is one record on the job progress stream. Events are
// transient; consumers fold them into their cached Job view and discard them.
type ProgressEvent struct {
	JobID           string  `json:"job_id"`
	Status          string  `json:"status"`
	CurrentPhase    int     `json:"current_phase"`
	ProgressPercent float64 `json:"progress_percent"`
	Message         string  `json:"message"`
	PageID          string  `json:"page_id,omitempty"`
	PageTitle       string  `json:"page_title,omitempty"`
	PageStatus      string  `json:"page_status,omitempty"`
	TotalPages      *int    `json:"total_pages,omitempty"`
	CompletedPages  *int    `json:"completed_pages,omitempty"`
	FailedPages     *int    `json:"failed_pages,omitempty"`
	Error           string  `json:"error,omitempty"`
	Heartbeat       bool    `json:"heartbeat,omitempty"`
}

// Terminal reports whether the event carries a terminal job status. A
// terminal record is authoritative and ends the logical stream even if the
// transport is still open.
func (e ProgressEvent) Terminal() bool {
	return IsTerminal(e.Status)
}

// CreateJobRequest is the body of POST /jobs, forwarded to upstream as-is.
type CreateJobRequest struct {
	RepoURL         string   `json:"repo_url"`
	RepoType        string   `json:"repo_type"`
	Owner           string   `json:"owner"`
	Repo            string   `json:"repo"`
	Provider        string   `json:"provider"`
	Model           string   `json:"model,omitempty"`
	Language        string   `json:"language"`
	IsComprehensive bool     `json:"is_comprehensive"`
	AccessToken     string   `json:"access_token,omitempty"`
	Branch          string   `json:"branch,omitempty"`
	ExcludedDirs    []string `json:"excluded_dirs,omitempty"`
	ExcludedFiles   []string `json:"excluded_files,omitempty"`
	IncludedDirs    []string `json:"included_dirs,omitempty"`
	IncludedFiles   []string `json:"included_files,omitempty"`
}

// CreateJobResponse is the upstream reply to a successful create.
type CreateJobResponse struct {
	JobID   string `json:"job_id"`
	Message string `json:"message,omitempty"`
}

// ListJobsResponse is the upstream reply to GET /jobs.
type ListJobsResponse struct {
	Jobs  []Job `json:"jobs"`
	Total int   `json:"total"`
}

// ListFilter carries the supported query filters for GET /jobs. Zero values
// are omitted from the forwarded query string, never sent as empty strings.
type ListFilter struct {
	Owner  string
	Repo   string
	Status string
	Limit  int
	Offset int
}
