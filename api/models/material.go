// api/models/material.go
package models

import "strings"

// DefaultMaterial is used when a job does not name one
const DefaultMaterial = "PLA"

var validMaterials = []string{"PLA", "PETG", "ABS", "ASA", "TPU"}

// Materials returns the filament types a job may request
func Materials() []string {
	return append([]string(nil), validMaterials...)
}

// IsValidMaterial checks if a filament type is valid
func IsValidMaterial(material string) bool {
	upper := strings.ToUpper(material)

	for _, m := range validMaterials {
		if upper == m {
			return true
		}
	}
	return false
}
