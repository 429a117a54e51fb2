package dashboard

import (
	"sort"
	"sync"

	"github.com/devadigapratham/fleet3d/api/models"
)

// StateSync is the single entry point through which printer statuses
// reach the dashboard state. A status carrying a sequence number lower
// than the one already held for that printer is discarded.
type StateSync interface {
	ApplyStatus(id string, status *models.PrinterStatus, seq uint64) bool
}

// Counters are the numbers shown above the printer grid
type Counters struct {
	Total     int `json:"total"`
	Ready     int `json:"ready"`
	Idle      int `json:"idle"`
	Attention int `json:"attention"`
	Completed int `json:"completed"`
	Filtered  int `json:"filtered"`
}

// Card is everything the template needs to draw one printer
type Card struct {
	Printer  *models.Printer
	Status   *models.PrinterStatus
	Display  string
	Class    string
	Buttons  []Action
	Selected bool
}

// Controller holds the dashboard's view of the fleet
type Controller struct {
	mu       sync.RWMutex
	printers []*models.Printer
	statuses map[string]*models.PrinterStatus
	seqs     map[string]uint64
	selected map[string]struct{}
	filter   Filter
	view     ViewMode
}

// NewController creates an empty controller showing all printers in a grid
func NewController() *Controller {
	return &Controller{
		statuses: make(map[string]*models.PrinterStatus),
		seqs:     make(map[string]uint64),
		selected: make(map[string]struct{}),
		filter:   FilterAll,
		view:     ViewGrid,
	}
}

// SetPrinters replaces the printer list. Statuses and selection of
// printers that disappeared are dropped.
func (c *Controller) SetPrinters(printers []*models.Printer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keep := make(map[string]bool, len(printers))
	c.printers = make([]*models.Printer, 0, len(printers))
	for _, p := range printers {
		keep[p.ID] = true
		c.printers = append(c.printers, p)
	}
	for id := range c.statuses {
		if !keep[id] {
			c.forget(id)
		}
	}
	for id := range c.selected {
		if !keep[id] {
			delete(c.selected, id)
		}
	}
}

// AddPrinter appends a printer created through the dashboard
func (c *Controller) AddPrinter(p *models.Printer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.printers {
		if existing.ID == p.ID {
			return
		}
	}
	c.printers = append(c.printers, p)
}

// RemovePrinter drops a printer together with its status and selection
func (c *Controller) RemovePrinter(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.printers {
		if p.ID == id {
			c.printers = append(c.printers[:i], c.printers[i+1:]...)
			break
		}
	}
	c.forget(id)
	delete(c.selected, id)
}

// forget must be called with mu held
func (c *Controller) forget(id string) {
	delete(c.statuses, id)
	delete(c.seqs, id)
}

// ApplyStatus records status for printer id unless a newer one is held.
// It reports whether the status was kept.
func (c *Controller) ApplyStatus(id string, status *models.PrinterStatus, seq uint64) bool {
	if status == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.known(id) {
		return false
	}
	if last, ok := c.seqs[id]; ok && seq < last {
		return false
	}
	c.statuses[id] = status
	c.seqs[id] = seq
	return true
}

func (c *Controller) known(id string) bool {
	for _, p := range c.printers {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Printers returns the printer list in display order
func (c *Controller) Printers() []*models.Printer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*models.Printer(nil), c.printers...)
}

// PrinterIDs returns the ids of all known printers
func (c *Controller) PrinterIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.printers))
	for _, p := range c.printers {
		ids = append(ids, p.ID)
	}
	return ids
}

// Printer returns a printer by id
func (c *Controller) Printer(id string) (*models.Printer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.printers {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Status returns the last status held for a printer; nil when none
func (c *Controller) Status(id string) *models.PrinterStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statuses[id]
}

// SetFilter changes the active status filter
func (c *Controller) SetFilter(f Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

// Filter returns the active status filter
func (c *Controller) Filter() Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

// SetViewMode switches between grid and list layouts
func (c *Controller) SetViewMode(m ViewMode) {
	if m != ViewList {
		m = ViewGrid
	}
	c.mu.Lock()
	c.view = m
	c.mu.Unlock()
}

// ViewMode returns the current layout
func (c *Controller) ViewMode() ViewMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// Filtered returns the printers passing the active filter
func (c *Controller) Filtered() []*models.Printer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filtered()
}

func (c *Controller) filtered() []*models.Printer {
	out := make([]*models.Printer, 0, len(c.printers))
	for _, p := range c.printers {
		if c.filter.Matches(c.statuses[p.ID]) {
			out = append(out, p)
		}
	}
	return out
}

// Counters buckets every printer; the first matching bucket wins
func (c *Controller) Counters() Counters {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := Counters{Total: len(c.printers), Filtered: len(c.filtered())}
	for _, p := range c.printers {
		s := c.statuses[p.ID]
		switch {
		case idle(s):
			n.Ready++
			n.Idle++
		case needsAttention(s):
			n.Attention++
		case s.State() == models.StateComplete:
			n.Completed++
		}
	}
	return n
}

// Cards returns the filtered printers decorated for rendering
func (c *Controller) Cards() []Card {
	c.mu.RLock()
	defer c.mu.RUnlock()

	printers := c.filtered()
	cards := make([]Card, 0, len(printers))
	for _, p := range printers {
		s := c.statuses[p.ID]
		_, sel := c.selected[p.ID]
		cards = append(cards, Card{
			Printer:  p,
			Status:   s,
			Display:  DisplayStatus(s),
			Class:    CardClass(s),
			Buttons:  Buttons(s),
			Selected: sel,
		})
	}
	return cards
}

// Select adds a printer to the selection
func (c *Controller) Select(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known(id) {
		c.selected[id] = struct{}{}
	}
}

// Deselect removes a printer from the selection
func (c *Controller) Deselect(id string) {
	c.mu.Lock()
	delete(c.selected, id)
	c.mu.Unlock()
}

// SelectAll selects every printer passing the active filter
func (c *Controller) SelectAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.filtered() {
		c.selected[p.ID] = struct{}{}
	}
}

// ClearSelection empties the selection
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	c.selected = make(map[string]struct{})
	c.mu.Unlock()
}

// Selected returns the selected printer ids in order
func (c *Controller) Selected() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.selected))
	for id := range c.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
