package dashboard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/hashicorp/go-hclog"
)

// DefaultPollInterval is how often printer statuses are refreshed
const DefaultPollInterval = 5 * time.Second

// StatusSource fetches the live status of one printer
type StatusSource interface {
	PrinterStatus(ctx context.Context, id string) (*models.PrinterStatus, error)
}

// Fleet is the state a Poller refreshes
type Fleet interface {
	StateSync
	PrinterIDs() []string
}

// Sequencer hands out increasing sequence numbers shared by every
// producer of printer statuses
type Sequencer struct {
	n atomic.Uint64
}

// Next returns the next sequence number
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

// Poller refreshes printer statuses on a fixed interval. At most one
// refresh runs at a time; ticks that arrive while one is in flight are
// skipped.
type Poller struct {
	source StatusSource
	fleet  Fleet
	seq    *Sequencer
	logger hclog.Logger

	interval atomic.Int64
	reset    chan struct{}

	busy      atomic.Bool
	skipped   atomic.Uint64
	refreshes atomic.Uint64
	wg        sync.WaitGroup
}

// NewPoller creates a Poller. seq may be shared with a live feed so both
// order their statuses on the same scale.
func NewPoller(source StatusSource, fleet Fleet, seq *Sequencer, interval time.Duration, logger hclog.Logger) *Poller {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if seq == nil {
		seq = &Sequencer{}
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &Poller{
		source: source,
		fleet:  fleet,
		seq:    seq,
		logger: logger.Named("poller"),
		reset:  make(chan struct{}, 1),
	}
	p.interval.Store(int64(interval))
	return p
}

// Interval returns the poll interval
func (p *Poller) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// SetInterval changes the interval of a running poller
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 || d == p.Interval() {
		return
	}
	p.interval.Store(int64(d))
	select {
	case p.reset <- struct{}{}:
	default:
	}
	p.logger.Info("poll interval changed", "interval", d)
}

// Skipped returns how many ticks found a refresh still in flight
func (p *Poller) Skipped() uint64 {
	return p.skipped.Load()
}

// Refreshes returns how many refreshes have completed
func (p *Poller) Refreshes() uint64 {
	return p.refreshes.Load()
}

// Run polls immediately and then on every tick until ctx is done. It
// waits for an in-flight refresh before returning.
func (p *Poller) Run(ctx context.Context) {
	defer p.wg.Wait()

	p.tick(ctx)

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.reset:
			ticker.Reset(p.Interval())
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if !p.busy.CompareAndSwap(false, true) {
		n := p.skipped.Add(1)
		p.logger.Debug("refresh still running, tick skipped", "skipped", n)
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.busy.Store(false)
		p.refresh(ctx)
	}()
}

// Poll runs one refresh synchronously. It returns false without doing
// anything when another refresh is in flight.
func (p *Poller) Poll(ctx context.Context) bool {
	if !p.busy.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		return false
	}
	defer p.busy.Store(false)
	p.refresh(ctx)
	return true
}

// refresh fetches every printer's status within one interval and applies
// the results under a single sequence number
func (p *Poller) refresh(ctx context.Context) {
	seq := p.seq.Next()
	ctx, cancel := context.WithTimeout(ctx, p.Interval())
	defer cancel()

	ids := p.fleet.PrinterIDs()
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			status, err := p.source.PrinterStatus(ctx, id)
			if err != nil {
				// Shutting down, not a printer failure
				if errors.Is(err, context.Canceled) {
					return
				}
				p.logger.Debug("status fetch failed", "printer", id, "error", err)
				status = models.OfflineStatus(err, time.Now().UTC())
			}
			if !p.fleet.ApplyStatus(id, status, seq) {
				p.logger.Trace("stale status discarded", "printer", id, "seq", seq)
			}
		}(id)
	}
	wg.Wait()
	p.refreshes.Add(1)
}
