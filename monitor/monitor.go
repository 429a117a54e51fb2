package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/devadigapratham/fleet3d/moonraker"
	"github.com/hashicorp/go-hclog"
)

// DefaultInterval is how often every printer is queried
const DefaultInterval = 5 * time.Second

// PrinterSource lists the printers to watch
type PrinterSource interface {
	GetPrinters() []*models.Printer
	GetPrinter(id string) (*models.Printer, bool)
}

// Config tunes the monitor
type Config struct {
	Interval time.Duration
	// Workers bounds the number of printers queried at once
	Workers int
	// Subscribe keeps a Moonraker websocket open per printer for push updates
	Subscribe bool
}

// Monitor queries every printer on a fixed interval, caches the last
// status and publishes changes to the hub
type Monitor struct {
	source PrinterSource
	pool   *moonraker.Pool
	hub    *Hub
	logger hclog.Logger

	workers   int
	subscribe bool
	interval  atomic.Int64
	reset     chan struct{}
	seq       atomic.Uint64

	mu       sync.RWMutex
	statuses map[string]*models.PrinterStatus
	lastSeen map[string]time.Time
	watchers map[string]context.CancelFunc
}

// New creates a Monitor. hub may be nil when nobody listens for events.
func New(source PrinterSource, pool *moonraker.Pool, hub *Hub, cfg Config, logger hclog.Logger) *Monitor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	m := &Monitor{
		source:    source,
		pool:      pool,
		hub:       hub,
		logger:    logger.Named("monitor"),
		workers:   cfg.Workers,
		subscribe: cfg.Subscribe,
		reset:     make(chan struct{}, 1),
		statuses:  make(map[string]*models.PrinterStatus),
		lastSeen:  make(map[string]time.Time),
		watchers:  make(map[string]context.CancelFunc),
	}
	m.interval.Store(int64(cfg.Interval))
	return m
}

// Interval returns the current query interval
func (m *Monitor) Interval() time.Duration {
	return time.Duration(m.interval.Load())
}

// SetInterval changes the query interval of a running monitor
func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 || d == m.Interval() {
		return
	}
	m.interval.Store(int64(d))
	select {
	case m.reset <- struct{}{}:
	default:
	}
	m.logger.Info("status interval changed", "interval", d)
}

// Run refreshes immediately and then on every tick until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	m.Refresh(ctx)

	ticker := time.NewTicker(m.Interval())
	defer ticker.Stop()
	defer m.stopWatchers()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.reset:
			ticker.Reset(m.Interval())
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// Refresh queries all printers once, at most Workers at a time
func (m *Monitor) Refresh(ctx context.Context) {
	printers := m.source.GetPrinters()
	m.prune(printers)
	if m.subscribe {
		m.syncWatchers(ctx, printers)
	}

	sem := make(chan struct{}, m.workers)
	var wg sync.WaitGroup
	for _, p := range printers {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(p *models.Printer) {
			defer wg.Done()
			defer func() { <-sem }()
			m.Fetch(ctx, p)
		}(p)
	}
	wg.Wait()
}

// Fetch queries one printer now, records and publishes the result
func (m *Monitor) Fetch(ctx context.Context, p *models.Printer) *models.PrinterStatus {
	status, err := m.pool.Get(p.MoonrakerURL).Status(ctx)
	if err != nil {
		m.logger.Debug("printer unreachable", "printer", p.ID, "error", err)
	}
	m.record(p.ID, status, false)
	return status
}

// record stores a status. Partial statuses come from the websocket feed
// and keep the info and files of the last full query. Statuses of printers
// removed while they were queried are dropped.
func (m *Monitor) record(id string, status *models.PrinterStatus, partial bool) {
	m.mu.Lock()
	if _, ok := m.source.GetPrinter(id); !ok {
		m.mu.Unlock()
		m.logger.Debug("dropping status of removed printer", "printer", id)
		return
	}
	if partial && status.Online {
		if prev, ok := m.statuses[id]; ok {
			status.PrinterInfo = prev.PrinterInfo
			status.Files = prev.Files
		}
	}
	m.statuses[id] = status
	if status.Online {
		m.lastSeen[id] = status.LastUpdate
	}
	m.mu.Unlock()

	if m.hub != nil {
		m.hub.Publish(Event{Type: EventStatus, PrinterID: id, Seq: m.seq.Add(1), Status: status})
	}
}

// Status returns the cached status of a printer
func (m *Monitor) Status(id string) (*models.PrinterStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[id]
	return s, ok
}

// Snapshot returns one status event per cached printer
func (m *Monitor) Snapshot() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]Event, 0, len(m.statuses))
	seq := m.seq.Load()
	for id, s := range m.statuses {
		events = append(events, Event{Type: EventStatus, PrinterID: id, Seq: seq, Status: s})
	}
	return events
}

// Decorate fills the live status and last_seen of printers from the cache
func (m *Monitor) Decorate(printers ...*models.Printer) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range printers {
		if s, ok := m.statuses[p.ID]; ok && s.Online {
			p.Status = "online"
		} else {
			p.Status = "offline"
		}
		if seen, ok := m.lastSeen[p.ID]; ok {
			t := seen
			p.LastSeen = &t
		}
	}
}

// Forget drops everything cached about a removed printer
func (m *Monitor) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, id)
	delete(m.lastSeen, id)
	if cancel, ok := m.watchers[id]; ok {
		cancel()
		delete(m.watchers, id)
	}
}

func (m *Monitor) prune(printers []*models.Printer) {
	known := make(map[string]bool, len(printers))
	for _, p := range printers {
		known[p.ID] = true
	}

	m.mu.RLock()
	var gone []string
	for id := range m.statuses {
		if !known[id] {
			gone = append(gone, id)
		}
	}
	for id := range m.watchers {
		if !known[id] {
			gone = append(gone, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range gone {
		m.Forget(id)
	}
}

// syncWatchers starts a websocket watcher for every printer without one
func (m *Monitor) syncWatchers(ctx context.Context, printers []*models.Printer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range printers {
		if _, ok := m.watchers[p.ID]; ok {
			continue
		}
		wctx, cancel := context.WithCancel(ctx)
		m.watchers[p.ID] = cancel
		go m.watch(wctx, p)
	}
}

func (m *Monitor) watch(ctx context.Context, p *models.Printer) {
	client := m.pool.Get(p.MoonrakerURL)
	for {
		err := client.Subscribe(ctx, func(s *models.PrinterStatus) {
			m.record(p.ID, s, true)
		})
		if ctx.Err() != nil {
			return
		}
		m.logger.Debug("printer feed closed, retrying", "printer", p.ID, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.Interval()):
		}
	}
}

func (m *Monitor) stopWatchers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cancel := range m.watchers {
		cancel()
		delete(m.watchers, id)
	}
}
