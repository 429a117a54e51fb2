package raft

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
)

// ErrNotFound is returned when a command targets an entity that does not exist
var ErrNotFound = errors.New("not found")

// FSM implements the raft.FSM interface for the printer fleet
type FSM struct {
	mu     sync.RWMutex
	logger hclog.Logger

	state fleetState
}

// fleetState is everything the fleet replicates. Counters only grow so
// identifiers are never reused after a delete.
type fleetState struct {
	Printers map[string]*models.Printer `json:"printers"`
	Files    map[string]*models.File    `json:"files"`
	Jobs     map[string]*models.Job     `json:"jobs"`
	Users    map[string]*models.User    `json:"users"`
	Counters map[string]int             `json:"counters"`
}

func newFleetState() fleetState {
	return fleetState{
		Printers: make(map[string]*models.Printer),
		Files:    make(map[string]*models.File),
		Jobs:     make(map[string]*models.Job),
		Users:    make(map[string]*models.User),
		Counters: make(map[string]int),
	}
}

// NewFSM creates a new Finite State Machine for the fleet
func NewFSM(logger hclog.Logger) *FSM {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &FSM{
		logger: logger.Named("fsm"),
		state:  newFleetState(),
	}
}

// Apply applies a Raft log entry to the FSM. It returns the affected
// entity on success and an error otherwise.
func (f *FSM) Apply(log *raft.Log) interface{} {
	cmd, err := models.UnmarshalCommand(log.Data)
	if err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	result := f.apply(cmd)
	if err, ok := result.(error); ok {
		f.logger.Debug("command rejected", "type", cmd.Type, "index", log.Index, "error", err)
	}
	return result
}

func (f *FSM) apply(cmd *models.Command) interface{} {
	s := &f.state

	switch cmd.Type {
	case models.AddPrinter:
		if cmd.Printer == nil {
			return fmt.Errorf("printer is nil")
		}
		p := *cmd.Printer
		p.ID = models.PrinterID(f.next("printer"))
		s.Printers[p.ID] = &p
		return copyPrinter(&p)

	case models.RemovePrinter:
		if _, ok := s.Printers[cmd.TargetID]; !ok {
			return fmt.Errorf("printer %s: %w", cmd.TargetID, ErrNotFound)
		}
		delete(s.Printers, cmd.TargetID)
		return nil

	case models.AddFile:
		if cmd.File == nil {
			return fmt.Errorf("file is nil")
		}
		file := *cmd.File
		file.ID = models.FileID(f.next("file"))
		s.Files[file.ID] = &file
		out := file
		return &out

	case models.RemoveFile:
		if _, ok := s.Files[cmd.TargetID]; !ok {
			return fmt.Errorf("file %s: %w", cmd.TargetID, ErrNotFound)
		}
		delete(s.Files, cmd.TargetID)
		return nil

	case models.AddJob:
		if cmd.Job == nil {
			return fmt.Errorf("job is nil")
		}
		job := *cmd.Job
		job.ID = models.JobID(f.next("job"))
		job.Printers = append([]string{}, job.Printers...)
		job.Created = cmd.Timestamp
		s.Jobs[job.ID] = &job
		return copyJob(&job)

	case models.UpdateJob:
		job, ok := s.Jobs[cmd.TargetID]
		if !ok {
			return fmt.Errorf("job %s: %w", cmd.TargetID, ErrNotFound)
		}
		if cmd.JobPatch == nil {
			return fmt.Errorf("job patch is nil")
		}
		cmd.JobPatch.Apply(job)
		at := cmd.Timestamp
		job.Modified = &at
		return copyJob(job)

	case models.SetJobStatus:
		job, ok := s.Jobs[cmd.TargetID]
		if !ok {
			return fmt.Errorf("job %s: %w", cmd.TargetID, ErrNotFound)
		}
		if err := models.ValidateStatusChange(job.Status, cmd.NewStatus); err != nil {
			return err
		}
		at := cmd.Timestamp
		if cmd.NewStatus == models.JobRunning && job.Started == nil {
			job.Started = &at
		}
		if cmd.NewStatus.Terminal() {
			job.Completed = &at
		}
		if cmd.NewStatus == models.JobCompleted {
			job.Progress = 100
			job.FilesPrinted = job.Quantity
		}
		job.Status = cmd.NewStatus
		return copyJob(job)

	case models.SetJobProgress:
		job, ok := s.Jobs[cmd.TargetID]
		if !ok {
			return fmt.Errorf("job %s: %w", cmd.TargetID, ErrNotFound)
		}
		if cmd.Progress < 0 || cmd.Progress > 100 {
			return fmt.Errorf("progress %d out of range", cmd.Progress)
		}
		job.Progress = cmd.Progress
		// Reaching 100% completes a running job
		if cmd.Progress == 100 && job.Status == models.JobRunning {
			at := cmd.Timestamp
			job.Status = models.JobCompleted
			job.Completed = &at
			job.FilesPrinted = job.Quantity
		}
		return copyJob(job)

	case models.RemoveJob:
		if _, ok := s.Jobs[cmd.TargetID]; !ok {
			return fmt.Errorf("job %s: %w", cmd.TargetID, ErrNotFound)
		}
		delete(s.Jobs, cmd.TargetID)
		return nil

	case models.AddUser:
		if cmd.User == nil {
			return fmt.Errorf("user is nil")
		}
		user := *cmd.User
		if user.ID == "" {
			user.ID = models.UserID(f.next("user"))
		} else if _, exists := s.Users[user.ID]; exists {
			return fmt.Errorf("user %s already exists", user.ID)
		}
		user.Created = cmd.Timestamp
		s.Users[user.ID] = &user
		out := user
		return &out

	case models.UpdateUser:
		user, ok := s.Users[cmd.TargetID]
		if !ok {
			return fmt.Errorf("user %s: %w", cmd.TargetID, ErrNotFound)
		}
		if cmd.UserPatch == nil {
			return fmt.Errorf("user patch is nil")
		}
		cmd.UserPatch.Apply(user)
		out := *user
		return &out

	case models.RemoveUser:
		if _, ok := s.Users[cmd.TargetID]; !ok {
			return fmt.Errorf("user %s: %w", cmd.TargetID, ErrNotFound)
		}
		delete(s.Users, cmd.TargetID)
		return nil

	default:
		return fmt.Errorf("unknown command type: %s", cmd.Type)
	}
}

// next advances the counter for kind and returns its new value
func (f *FSM) next(kind string) int {
	f.state.Counters[kind]++
	return f.state.Counters[kind]
}

// Snapshot returns a snapshot of the FSM state
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	// Encode now so later mutations cannot leak into the snapshot
	data, err := json.Marshal(f.state)
	if err != nil {
		return nil, err
	}
	return &fsmSnapshot{data: data}, nil
}

// Restore restores the FSM from a snapshot
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	state := newFleetState()
	if err := json.NewDecoder(rc).Decode(&state); err != nil {
		return err
	}
	if state.Counters == nil {
		state.Counters = make(map[string]int)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = state
	f.logger.Info("state restored from snapshot",
		"printers", len(state.Printers), "jobs", len(state.Jobs), "files", len(state.Files), "users", len(state.Users))
	return nil
}

// GetPrinters returns all printers ordered by ID
func (f *FSM) GetPrinters() []*models.Printer {
	f.mu.RLock()
	defer f.mu.RUnlock()

	printers := make([]*models.Printer, 0, len(f.state.Printers))
	for _, p := range f.state.Printers {
		printers = append(printers, copyPrinter(p))
	}
	sort.Slice(printers, func(i, j int) bool { return printers[i].ID < printers[j].ID })
	return printers
}

// GetPrinter returns a printer by ID
func (f *FSM) GetPrinter(id string) (*models.Printer, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.state.Printers[id]
	if !ok {
		return nil, false
	}
	return copyPrinter(p), true
}

// GetFiles returns all library files ordered by ID
func (f *FSM) GetFiles() []*models.File {
	f.mu.RLock()
	defer f.mu.RUnlock()

	files := make([]*models.File, 0, len(f.state.Files))
	for _, file := range f.state.Files {
		c := *file
		files = append(files, &c)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files
}

// GetFile returns a library file by ID
func (f *FSM) GetFile(id string) (*models.File, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	file, ok := f.state.Files[id]
	if !ok {
		return nil, false
	}
	c := *file
	return &c, true
}

// GetJobs returns all jobs ordered by ID
func (f *FSM) GetJobs() []*models.Job {
	f.mu.RLock()
	defer f.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(f.state.Jobs))
	for _, job := range f.state.Jobs {
		jobs = append(jobs, copyJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// GetJobsByStatus returns jobs filtered by status
func (f *FSM) GetJobsByStatus(status models.JobStatus) []*models.Job {
	var jobs []*models.Job
	for _, job := range f.GetJobs() {
		if job.Status == status {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// GetJob returns a job by ID
func (f *FSM) GetJob(id string) (*models.Job, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	job, ok := f.state.Jobs[id]
	if !ok {
		return nil, false
	}
	return copyJob(job), true
}

// GetUsers returns all users ordered by ID
func (f *FSM) GetUsers() []*models.User {
	f.mu.RLock()
	defer f.mu.RUnlock()

	users := make([]*models.User, 0, len(f.state.Users))
	for _, u := range f.state.Users {
		c := *u
		users = append(users, &c)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

// GetUser returns a user by ID
func (f *FSM) GetUser(id string) (*models.User, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	u, ok := f.state.Users[id]
	if !ok {
		return nil, false
	}
	c := *u
	return &c, true
}

func copyPrinter(p *models.Printer) *models.Printer {
	c := *p
	c.Tags = append([]string{}, p.Tags...)
	return &c
}

func copyJob(j *models.Job) *models.Job {
	c := *j
	c.Printers = append([]string{}, j.Printers...)
	return &c
}

// fsmSnapshot implements the raft.FSMSnapshot interface
type fsmSnapshot struct {
	data []byte
}

// Persist saves the snapshot to the provided sink
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if _, err := sink.Write(s.data); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
		return err
	}

	return nil
}

// Release is a no-op
func (s *fsmSnapshot) Release() {}
