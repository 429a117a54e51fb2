package storage

import (
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultExtensions are the print file types accepted by the library
var DefaultExtensions = []string{"gcode", "g", "gco", "gcode.gz", "ufp", "3mf"}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SecureFilename reduces a client supplied name to a safe base name.
// It returns "" when nothing usable is left.
func SecureFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	return name
}

// Extension returns the lower-case extension of name, preferring the
// longest one listed in allowed (so "part.gcode.gz" yields "gcode.gz")
func Extension(name string, allowed []string) string {
	lower := strings.ToLower(name)
	best := ""
	for _, ext := range allowed {
		if strings.HasSuffix(lower, "."+ext) && len(ext) > len(best) {
			best = ext
		}
	}
	if best != "" {
		return best
	}
	if i := strings.LastIndex(lower, "."); i >= 0 && i < len(lower)-1 {
		return lower[i+1:]
	}
	return ""
}

// AllowedFile reports whether name carries one of the allowed extensions
func AllowedFile(name string, allowed []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range allowed {
		if strings.HasSuffix(lower, "."+strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// FileType is the type recorded for a library file
func FileType(name string, allowed []string) string {
	if ext := Extension(name, allowed); ext != "" {
		return ext
	}
	return "unknown"
}
