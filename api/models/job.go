// api/models/job.go
package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a fleet print job
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
	JobFailed    JobStatus = "failed"
)

// Job priorities
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Job represents a batch print request targeting one or more printers
type Job struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Filename         string     `json:"filename"` // library file ID
	Quantity         int        `json:"quantity"`
	Priority         string     `json:"priority"`
	Material         string     `json:"material"`
	Printers         []string   `json:"printers"`
	Status           JobStatus  `json:"status"`
	Progress         int        `json:"progress"`
	EstimatedTime    string     `json:"estimated_time"`
	Created          time.Time  `json:"created"`
	Started          *time.Time `json:"started"`
	Completed        *time.Time `json:"completed"`
	Modified         *time.Time `json:"modified,omitempty"`
	CurrentFileIndex int        `json:"current_file_index"`
	FilesPrinted     int        `json:"files_printed"`
}

// JobPatch carries the editable fields of a job; nil fields are left alone
type JobPatch struct {
	Name          *string   `json:"name,omitempty"`
	Quantity      *int      `json:"quantity,omitempty"`
	Priority      *string   `json:"priority,omitempty"`
	Material      *string   `json:"material,omitempty"`
	Printers      *[]string `json:"printers,omitempty"`
	EstimatedTime *string   `json:"estimated_time,omitempty"`
}

// ApplyDefaults fills the optional job fields the way job creation expects
func (j *Job) ApplyDefaults() {
	if j.Quantity <= 0 {
		j.Quantity = 1
	}
	if j.Priority == "" {
		j.Priority = PriorityNormal
	}
	if j.Material == "" {
		j.Material = DefaultMaterial
	}
	if j.Printers == nil {
		j.Printers = []string{}
	}
	if j.EstimatedTime == "" {
		j.EstimatedTime = "unknown"
	}
	j.Status = JobPending
	j.Progress = 0
}

// Apply merges a patch into the job
func (p *JobPatch) Apply(j *Job) {
	if p.Name != nil {
		j.Name = *p.Name
	}
	if p.Quantity != nil {
		j.Quantity = *p.Quantity
	}
	if p.Priority != nil {
		j.Priority = *p.Priority
	}
	if p.Material != nil {
		j.Material = *p.Material
	}
	if p.Printers != nil {
		j.Printers = append([]string{}, (*p.Printers)...)
	}
	if p.EstimatedTime != nil {
		j.EstimatedTime = *p.EstimatedTime
	}
}

// Validate checks the fields a job patch may change
func (p *JobPatch) Validate() error {
	if p.Name != nil && *p.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if p.Quantity != nil && *p.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if p.Priority != nil && !IsValidPriority(*p.Priority) {
		return fmt.Errorf("invalid priority %q", *p.Priority)
	}
	if p.Material != nil && !IsValidMaterial(*p.Material) {
		return fmt.Errorf("invalid material %q", *p.Material)
	}
	return nil
}

// JobID formats the sequential job identifier
func JobID(seq int) string {
	return fmt.Sprintf("job-%03d", seq)
}

// IsValidPriority checks if a job priority is valid
func IsValidPriority(priority string) bool {
	switch priority {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// IsValidJobStatus checks if a job status is valid
func IsValidJobStatus(status string) bool {
	switch JobStatus(status) {
	case JobPending, JobRunning, JobPaused, JobCompleted, JobCancelled, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobFailed
}
