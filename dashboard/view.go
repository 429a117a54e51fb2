package dashboard

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/devadigapratham/fleet3d/api/models"
)

// Filter selects which printers the grid shows
type Filter string

const (
	FilterAll       Filter = "all"
	FilterReady     Filter = "ready"
	FilterAttention Filter = "attention"
	FilterCompleted Filter = "completed"
	FilterIdle      Filter = "idle"
)

// ParseFilter validates a filter name coming from a request
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(s)); f {
	case FilterAll, FilterReady, FilterAttention, FilterCompleted, FilterIdle:
		return f, nil
	}
	return "", fmt.Errorf("unknown filter %q", s)
}

// ViewMode is the layout of the printer panel
type ViewMode string

const (
	ViewGrid ViewMode = "grid"
	ViewList ViewMode = "list"
)

// Display statuses shown on a printer card
const (
	DisplayOffline   = "offline"
	DisplayPrinting  = "printing"
	DisplayPaused    = "paused"
	DisplayCompleted = "completed"
	DisplayIdle      = "idle"
)

// Action is a control the dashboard can send to a printer
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "cancel"
	ActionLight  Action = "light"
	ActionDelete Action = "delete"
)

// DisplayStatus maps a printer status to the label shown on its card
func DisplayStatus(s *models.PrinterStatus) string {
	if !s.IsOnline() {
		return DisplayOffline
	}
	switch s.State() {
	case models.StatePrinting:
		return DisplayPrinting
	case models.StatePaused:
		return DisplayPaused
	case models.StateComplete:
		return DisplayCompleted
	}
	return DisplayIdle
}

// CardClass returns the extra decoration class of a printer card
func CardClass(s *models.PrinterStatus) string {
	switch s.State() {
	case models.StateError:
		return "error"
	case models.StateComplete:
		return "completed"
	}
	return ""
}

// Buttons lists the actions offered on a printer card, in display order
func Buttons(s *models.PrinterStatus) []Action {
	var actions []Action
	switch s.State() {
	case models.StatePrinting:
		actions = []Action{ActionPause, ActionStop}
	case models.StatePaused:
		actions = []Action{ActionResume, ActionStop}
	default:
		actions = []Action{ActionStart}
	}
	return append(actions, ActionLight, ActionDelete)
}

// idle reports whether a printer is online with nothing loaded
func idle(s *models.PrinterStatus) bool {
	return s.IsOnline() && s.Filename() == ""
}

func needsAttention(s *models.PrinterStatus) bool {
	return s.State() == models.StateError || !s.IsOnline()
}

// Matches reports whether a printer with status s passes filter f
func (f Filter) Matches(s *models.PrinterStatus) bool {
	switch f {
	case FilterReady, FilterIdle:
		return idle(s)
	case FilterAttention:
		return needsAttention(s)
	case FilterCompleted:
		return s.State() == models.StateComplete
	}
	return true
}

// FormatDuration renders seconds as <h>h<m>m
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	return fmt.Sprintf("%dh%dm", total/3600, (total%3600)/60)
}

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatSize renders a byte count with two decimals, trailing zeros trimmed
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	v, i := float64(bytes), 0
	for v >= 1024 && i < len(sizeUnits)-1 {
		v /= 1024
		i++
	}
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64) + " " + sizeUnits[i]
}

// Percent converts a 0..1 progress into a whole percentage
func Percent(progress float64) int {
	return int(math.Round(progress * 100))
}

// PrintableFiles keeps the printer files the start-print picker offers
func PrintableFiles(files []models.PrinterFile) []models.PrinterFile {
	out := make([]models.PrinterFile, 0, len(files))
	for _, f := range files {
		if f.Printable() {
			out = append(out, f)
		}
	}
	return out
}

// JobFiles keeps the library files a job can be created from
func JobFiles(files []*models.File) []*models.File {
	out := make([]*models.File, 0, len(files))
	for _, f := range files {
		if f.Type == "gcode" || f.Type == "3mf" {
			out = append(out, f)
		}
	}
	return out
}
