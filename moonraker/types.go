package moonraker

import (
	"encoding/json"
	"fmt"

	"github.com/devadigapratham/fleet3d/api/models"
)

// StatusError is returned when Moonraker answers with a non-200 status
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("moonraker %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("moonraker %s: status %d", e.Op, e.StatusCode)
}

// envelope is the {"result": ...} wrapper of every Moonraker reply
type envelope struct {
	Result json.RawMessage `json:"result"`
}

type queryResult struct {
	Status statusObjects `json:"status"`
}

// statusObjects are the printer objects fleet3d queries or subscribes to
type statusObjects struct {
	PrintStats    *models.PrintStats `json:"print_stats,omitempty"`
	VirtualSDCard *virtualSDCard     `json:"virtual_sdcard,omitempty"`
	Extruder      *models.Heater     `json:"extruder,omitempty"`
	HeaterBed     *models.Heater     `json:"heater_bed,omitempty"`
	LED           *ledObject         `json:"led,omitempty"`
}

type virtualSDCard struct {
	Progress float64 `json:"progress"`
}

// ledObject accepts both the color_data list of current Klipper releases
// and the flat red/green/blue fields of older ones
type ledObject struct {
	ColorData [][]float64 `json:"color_data,omitempty"`
	Red       *float64    `json:"red,omitempty"`
}

func (l *ledObject) level() float64 {
	if l == nil {
		return 0
	}
	if len(l.ColorData) > 0 && len(l.ColorData[0]) > 0 {
		return l.ColorData[0][0]
	}
	if l.Red != nil {
		return *l.Red
	}
	return 0
}

// printStats folds virtual_sdcard progress into print_stats
func (s statusObjects) printStats() *models.PrintStats {
	if s.PrintStats == nil {
		return nil
	}
	ps := *s.PrintStats
	if s.VirtualSDCard != nil {
		ps.Progress = s.VirtualSDCard.Progress
	}
	return &ps
}

func (s statusObjects) temperature() *models.Temperature {
	if s.Extruder == nil && s.HeaterBed == nil {
		return nil
	}
	return &models.Temperature{Extruder: s.Extruder, HeaterBed: s.HeaterBed}
}

// fileEntry covers the naming differences between Moonraker versions
type fileEntry struct {
	Path     string  `json:"path"`
	Filename string  `json:"filename"`
	Pathname string  `json:"pathname"`
	Modified float64 `json:"modified"`
	Size     int64   `json:"size"`
}

func (f fileEntry) model() models.PrinterFile {
	p := f.Path
	if p == "" {
		p = f.Pathname
	}
	if p == "" {
		p = f.Filename
	}
	return models.PrinterFile{Path: p, Modified: f.Modified, Size: f.Size}
}
