// api/models/printer.go
package models

import (
	"fmt"
	"time"
)

// DefaultMoonrakerPort is the port Moonraker listens on unless told otherwise
const DefaultMoonrakerPort = 7125

// DefaultWebcamPort is the port of the mjpeg-streamer on a printer host
const DefaultWebcamPort = 8080

// Printer represents a Moonraker-controlled 3D printer in the fleet
type Printer struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	IPAddress    string     `json:"ip_address"`
	Port         int        `json:"port"`
	Tags         []string   `json:"tags"`
	Status       string     `json:"status"`
	LastSeen     *time.Time `json:"last_seen"`
	WebcamURL    string     `json:"webcam_url"`
	MoonrakerURL string     `json:"moonraker_url"`
}

// NewPrinter builds a printer with derived webcam and Moonraker URLs.
// The ID is assigned when the printer is applied to the fleet state.
func NewPrinter(name, ip string, port, webcamPort int, tags []string) *Printer {
	if port == 0 {
		port = DefaultMoonrakerPort
	}
	if webcamPort == 0 {
		webcamPort = DefaultWebcamPort
	}
	if tags == nil {
		tags = []string{}
	}
	return &Printer{
		Name:         name,
		IPAddress:    ip,
		Port:         port,
		Tags:         tags,
		Status:       "offline",
		WebcamURL:    fmt.Sprintf("http://%s:%d/webcam/?action=stream", ip, webcamPort),
		MoonrakerURL: fmt.Sprintf("http://%s:%d", ip, port),
	}
}

// PrinterID formats the sequential printer identifier
func PrinterID(seq int) string {
	return fmt.Sprintf("ZB3D-%03d", seq)
}
