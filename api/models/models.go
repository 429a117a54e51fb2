// api/models/models.go
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CommandType represents the type of command to be executed
type CommandType string

const (
	AddPrinter     CommandType = "ADD_PRINTER"
	RemovePrinter  CommandType = "REMOVE_PRINTER"
	AddFile        CommandType = "ADD_FILE"
	RemoveFile     CommandType = "REMOVE_FILE"
	AddJob         CommandType = "ADD_JOB"
	UpdateJob      CommandType = "UPDATE_JOB"
	SetJobStatus   CommandType = "SET_JOB_STATUS"
	SetJobProgress CommandType = "SET_JOB_PROGRESS"
	RemoveJob      CommandType = "REMOVE_JOB"
	AddUser        CommandType = "ADD_USER"
	UpdateUser     CommandType = "UPDATE_USER"
	RemoveUser     CommandType = "REMOVE_USER"
)

// ErrInvalidTransition is returned when a job cannot move to the requested status
var ErrInvalidTransition = errors.New("invalid status transition")

// Command represents a command to be applied to the FSM.
// Timestamp is set by the proposer so every replica records the same time.
type Command struct {
	Type      CommandType `json:"type"`
	Printer   *Printer    `json:"printer,omitempty"`
	File      *File       `json:"file,omitempty"`
	Job       *Job        `json:"job,omitempty"`
	JobPatch  *JobPatch   `json:"job_patch,omitempty"`
	User      *User       `json:"user,omitempty"`
	UserPatch *UserPatch  `json:"user_patch,omitempty"`
	TargetID  string      `json:"target_id,omitempty"`
	NewStatus JobStatus   `json:"new_status,omitempty"`
	Progress  int         `json:"progress,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Marshal serializes a command to JSON
func (c *Command) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalCommand deserializes a command from JSON
func UnmarshalCommand(data []byte) (*Command, error) {
	var c Command
	err := json.Unmarshal(data, &c)
	return &c, err
}

// ValidateStatusChange checks if a job status transition is valid
func ValidateStatusChange(current, next JobStatus) error {
	var allowed []JobStatus
	switch current {
	case JobPending:
		allowed = []JobStatus{JobRunning, JobCancelled}
	case JobRunning:
		allowed = []JobStatus{JobPaused, JobCompleted, JobCancelled, JobFailed}
	case JobPaused:
		allowed = []JobStatus{JobRunning, JobCancelled}
	}

	for _, s := range allowed {
		if s == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}
