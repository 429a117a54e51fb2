// api/models/status.go
package models

import (
	"encoding/json"
	"path"
	"strings"
	"time"
)

// Print states reported by Klipper's print_stats object
const (
	StateStandby   = "standby"
	StateIdle      = "idle"
	StatePrinting  = "printing"
	StatePaused    = "paused"
	StateComplete  = "complete"
	StateCancelled = "cancelled"
	StateError     = "error"
)

// PrinterStatus is a point-in-time view of one printer as seen through Moonraker
type PrinterStatus struct {
	Online      bool            `json:"online"`
	Error       string          `json:"error,omitempty"`
	LastUpdate  time.Time       `json:"last_update"`
	PrinterInfo json.RawMessage `json:"printer_info,omitempty"`
	PrintStats  *PrintStats     `json:"print_stats,omitempty"`
	Temperature *Temperature    `json:"temperature,omitempty"`
	Files       []PrinterFile   `json:"files,omitempty"`
}

// OfflineStatus returns the status recorded when a printer cannot be reached
func OfflineStatus(err error, at time.Time) *PrinterStatus {
	s := &PrinterStatus{Online: false, LastUpdate: at}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

// State returns the print state, or "" when nothing is known
func (s *PrinterStatus) State() string {
	if s == nil || s.PrintStats == nil {
		return ""
	}
	return s.PrintStats.State
}

// Filename returns the file currently loaded for printing, if any
func (s *PrinterStatus) Filename() string {
	if s == nil || s.PrintStats == nil {
		return ""
	}
	return s.PrintStats.Filename
}

// IsOnline reports whether the printer answered its last query
func (s *PrinterStatus) IsOnline() bool {
	return s != nil && s.Online
}

// Ready reports whether a printer can accept a new print
func (s *PrinterStatus) Ready() bool {
	if !s.IsOnline() {
		return false
	}
	switch s.State() {
	case StateIdle, StateStandby, StateComplete, StateCancelled:
		return true
	}
	return false
}

// PrintStats mirrors Klipper's print_stats object, with progress taken
// from virtual_sdcard
type PrintStats struct {
	State         string     `json:"state"`
	Filename      string     `json:"filename"`
	Progress      float64    `json:"progress"`
	PrintDuration float64    `json:"print_duration"`
	TotalDuration float64    `json:"total_duration"`
	Message       string     `json:"message,omitempty"`
	Info          *LayerInfo `json:"info,omitempty"`
}

// LayerInfo holds the layer counters set by SET_PRINT_STATS_INFO
type LayerInfo struct {
	CurrentLayer int `json:"current_layer"`
	TotalLayer   int `json:"total_layer"`
}

// Temperature groups the heaters the dashboard displays
type Temperature struct {
	Extruder  *Heater `json:"extruder,omitempty"`
	HeaterBed *Heater `json:"heater_bed,omitempty"`
}

// Heater is a single heater reading
type Heater struct {
	Temperature float64 `json:"temperature"`
	Target      float64 `json:"target"`
}

// PrinterFile is an entry of Moonraker's gcodes root
type PrinterFile struct {
	Path     string  `json:"path"`
	Modified float64 `json:"modified"`
	Size     int64   `json:"size"`
}

// Name returns the base name of the file
func (f PrinterFile) Name() string {
	return path.Base(f.Path)
}

// Printable reports whether the file can be started from the dashboard
func (f PrinterFile) Printable() bool {
	p := strings.ToLower(f.Path)
	return strings.HasSuffix(p, ".gcode") || strings.HasSuffix(p, ".3mf")
}
