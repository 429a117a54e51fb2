package raft

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyCmd(t *testing.T, f *FSM, cmd *models.Command) interface{} {
	t.Helper()
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	}
	data, err := cmd.Marshal()
	require.NoError(t, err)
	return f.Apply(&raft.Log{Data: data})
}

func TestFSMPrinterIDsAreNeverReused(t *testing.T) {
	f := NewFSM(nil)

	first := applyCmd(t, f, &models.Command{Type: models.AddPrinter, Printer: models.NewPrinter("a", "10.0.0.1", 0, 0, nil)})
	p1, ok := first.(*models.Printer)
	require.True(t, ok)
	assert.Equal(t, "ZB3D-001", p1.ID)

	assert.Nil(t, applyCmd(t, f, &models.Command{Type: models.RemovePrinter, TargetID: p1.ID}))

	second := applyCmd(t, f, &models.Command{Type: models.AddPrinter, Printer: models.NewPrinter("b", "10.0.0.2", 0, 0, nil)})
	assert.Equal(t, "ZB3D-002", second.(*models.Printer).ID)
	assert.Len(t, f.GetPrinters(), 1)
}

func TestFSMRemoveMissingReturnsNotFound(t *testing.T) {
	f := NewFSM(nil)

	res := applyCmd(t, f, &models.Command{Type: models.RemoveJob, TargetID: "job-404"})
	err, ok := res.(error)
	require.True(t, ok)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFSMJobLifecycle(t *testing.T) {
	f := NewFSM(nil)

	job := &models.Job{Name: "clips", Filename: "file-001", Printers: []string{"ZB3D-001"}}
	job.ApplyDefaults()
	created := applyCmd(t, f, &models.Command{Type: models.AddJob, Job: job}).(*models.Job)
	assert.Equal(t, "job-001", created.ID)
	assert.Equal(t, models.JobPending, created.Status)

	running := applyCmd(t, f, &models.Command{Type: models.SetJobStatus, TargetID: created.ID, NewStatus: models.JobRunning}).(*models.Job)
	require.NotNil(t, running.Started)

	// Paused jobs cannot complete directly
	applyCmd(t, f, &models.Command{Type: models.SetJobStatus, TargetID: created.ID, NewStatus: models.JobPaused})
	res := applyCmd(t, f, &models.Command{Type: models.SetJobStatus, TargetID: created.ID, NewStatus: models.JobCompleted})
	err, ok := res.(error)
	require.True(t, ok)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))

	applyCmd(t, f, &models.Command{Type: models.SetJobStatus, TargetID: created.ID, NewStatus: models.JobRunning})
	done := applyCmd(t, f, &models.Command{Type: models.SetJobProgress, TargetID: created.ID, Progress: 100}).(*models.Job)
	assert.Equal(t, models.JobCompleted, done.Status)
	assert.NotNil(t, done.Completed)
	assert.Equal(t, done.Quantity, done.FilesPrinted)

	assert.Len(t, f.GetJobsByStatus(models.JobCompleted), 1)
}

func TestFSMProgressOutOfRange(t *testing.T) {
	f := NewFSM(nil)
	job := &models.Job{Name: "x", Filename: "file-001"}
	job.ApplyDefaults()
	created := applyCmd(t, f, &models.Command{Type: models.AddJob, Job: job}).(*models.Job)

	res := applyCmd(t, f, &models.Command{Type: models.SetJobProgress, TargetID: created.ID, Progress: 101})
	_, isErr := res.(error)
	assert.True(t, isErr)
}

func TestFSMUserWithPresetID(t *testing.T) {
	f := NewFSM(nil)

	admin := applyCmd(t, f, &models.Command{Type: models.AddUser, User: models.DefaultAdmin(time.Time{})}).(*models.User)
	assert.Equal(t, models.DefaultAdminID, admin.ID)

	dup := applyCmd(t, f, &models.Command{Type: models.AddUser, User: models.DefaultAdmin(time.Time{})})
	_, isErr := dup.(error)
	assert.True(t, isErr)

	u := applyCmd(t, f, &models.Command{Type: models.AddUser, User: &models.User{Name: "Ana", Email: "ana@example.com", Role: models.RoleOperator}}).(*models.User)
	assert.Equal(t, "user-001", u.ID)

	role := models.RoleViewer
	updated := applyCmd(t, f, &models.Command{Type: models.UpdateUser, TargetID: u.ID, UserPatch: &models.UserPatch{Role: &role}}).(*models.User)
	assert.Equal(t, models.RoleViewer, updated.Role)
}

func TestFSMGettersReturnCopies(t *testing.T) {
	f := NewFSM(nil)
	p := applyCmd(t, f, &models.Command{Type: models.AddPrinter, Printer: models.NewPrinter("a", "10.0.0.1", 0, 0, []string{"bay1"})}).(*models.Printer)

	got, ok := f.GetPrinter(p.ID)
	require.True(t, ok)
	got.Tags[0] = "mutated"
	got.Name = "mutated"

	again, _ := f.GetPrinter(p.ID)
	assert.Equal(t, "a", again.Name)
	assert.Equal(t, "bay1", again.Tags[0])
}

type sinkBuffer struct {
	bytes.Buffer
	cancelled bool
}

func (s *sinkBuffer) ID() string    { return "test" }
func (s *sinkBuffer) Cancel() error { s.cancelled = true; return nil }
func (s *sinkBuffer) Close() error  { return nil }

func TestFSMSnapshotRestore(t *testing.T) {
	f := NewFSM(nil)
	applyCmd(t, f, &models.Command{Type: models.AddPrinter, Printer: models.NewPrinter("a", "10.0.0.1", 0, 0, nil)})
	applyCmd(t, f, &models.Command{Type: models.AddFile, File: &models.File{Name: "clip.gcode", Type: "gcode"}})

	snap, err := f.Snapshot()
	require.NoError(t, err)
	sink := &sinkBuffer{}
	require.NoError(t, snap.Persist(sink))
	assert.False(t, sink.cancelled)

	restored := NewFSM(nil)
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))
	assert.Len(t, restored.GetPrinters(), 1)
	assert.Len(t, restored.GetFiles(), 1)

	// Counters survive the restore
	next := applyCmd(t, restored, &models.Command{Type: models.AddPrinter, Printer: models.NewPrinter("b", "10.0.0.2", 0, 0, nil)}).(*models.Printer)
	assert.Equal(t, "ZB3D-002", next.ID)
}

func TestNodeApplyInMemory(t *testing.T) {
	node, err := NewNode(&Config{NodeID: "node1", Bootstrap: true, InMemory: true}, nil)
	require.NoError(t, err)
	defer node.Shutdown()

	require.NoError(t, node.WaitForLeader(5*time.Second))
	require.Eventually(t, node.Leader, 5*time.Second, 20*time.Millisecond)

	res, err := node.Apply(&models.Command{Type: models.AddPrinter, Printer: models.NewPrinter("a", "10.0.0.1", 0, 0, nil)})
	require.NoError(t, err)
	assert.Equal(t, "ZB3D-001", res.(*models.Printer).ID)

	_, err = node.Apply(&models.Command{Type: models.RemovePrinter, TargetID: "ZB3D-999"})
	assert.True(t, errors.Is(err, ErrNotFound))
}
