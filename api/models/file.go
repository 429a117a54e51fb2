// api/models/file.go
package models

import (
	"fmt"
	"time"
)

// File is a print file held in the fleet library
type File struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Uploaded    time.Time `json:"uploaded"`
	Modified    time.Time `json:"modified"`
}

// FileID formats the sequential file identifier
func FileID(seq int) string {
	return fmt.Sprintf("file-%03d", seq)
}
