package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedSource blocks every fetch until release is closed
type gatedSource struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
	status  *models.PrinterStatus
}

func newGatedSource(s *models.PrinterStatus) *gatedSource {
	return &gatedSource{started: make(chan struct{}), release: make(chan struct{}), status: s}
}

func (g *gatedSource) PrinterStatus(ctx context.Context, id string) (*models.PrinterStatus, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return g.status, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stuckSource never answers before the deadline
type stuckSource struct{}

func (stuckSource) PrinterStatus(ctx context.Context, id string) (*models.PrinterStatus, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func onePrinterController() *Controller {
	c := NewController()
	c.SetPrinters([]*models.Printer{printer("ZB3D-001", "a")})
	return c
}

func TestPollRecordsFailuresAsOffline(t *testing.T) {
	backend := newFakeBackend()
	backend.statuses["ZB3D-001"] = status(true, models.StatePrinting, "a.gcode")

	c := NewController()
	c.SetPrinters([]*models.Printer{printer("ZB3D-001", "a"), printer("ZB3D-002", "b")})

	p := NewPoller(backend, c, nil, time.Second, nil)
	require.True(t, p.Poll(context.Background()))

	assert.Equal(t, DisplayPrinting, DisplayStatus(c.Status("ZB3D-001")))

	failed := c.Status("ZB3D-002")
	require.NotNil(t, failed)
	assert.False(t, failed.Online)
	assert.Contains(t, failed.Error, "printer not found")
	assert.Equal(t, uint64(1), p.Refreshes())
}

func TestPollSkipsWhileRefreshInFlight(t *testing.T) {
	src := newGatedSource(status(true, models.StateStandby, ""))
	p := NewPoller(src, onePrinterController(), nil, time.Minute, nil)

	done := make(chan bool)
	go func() { done <- p.Poll(context.Background()) }()
	<-src.started

	assert.False(t, p.Poll(context.Background()))
	assert.Equal(t, uint64(1), p.Skipped())

	close(src.release)
	assert.True(t, <-done)
	assert.Equal(t, uint64(1), p.Refreshes())
}

func TestSlowRefreshCannotOverwriteNewerStatus(t *testing.T) {
	c := onePrinterController()
	seq := &Sequencer{}
	src := newGatedSource(status(true, models.StateStandby, ""))
	p := NewPoller(src, c, seq, time.Minute, nil)

	done := make(chan struct{})
	go func() {
		p.Poll(context.Background())
		close(done)
	}()
	<-src.started

	// A push arrives while the refresh is still waiting
	pushed := status(true, models.StatePrinting, "a.gcode")
	require.True(t, c.ApplyStatus("ZB3D-001", pushed, seq.Next()))

	close(src.release)
	<-done
	assert.Same(t, pushed, c.Status("ZB3D-001"))
}

func TestRefreshIsBoundedByInterval(t *testing.T) {
	c := onePrinterController()
	p := NewPoller(stuckSource{}, c, nil, 30*time.Millisecond, nil)

	start := time.Now()
	p.Poll(context.Background())
	assert.Less(t, time.Since(start), time.Second)

	s := c.Status("ZB3D-001")
	require.NotNil(t, s)
	assert.False(t, s.Online)
	assert.Contains(t, s.Error, "deadline")
}

func TestRunStopsOnCancel(t *testing.T) {
	backend := newFakeBackend()
	backend.statuses["ZB3D-001"] = status(true, models.StateStandby, "")
	p := NewPoller(backend, onePrinterController(), nil, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return p.Refreshes() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestSetInterval(t *testing.T) {
	p := NewPoller(newFakeBackend(), NewController(), nil, 0, nil)
	assert.Equal(t, DefaultPollInterval, p.Interval())

	p.SetInterval(2 * time.Second)
	assert.Equal(t, 2*time.Second, p.Interval())

	p.SetInterval(0)
	assert.Equal(t, 2*time.Second, p.Interval())
}
