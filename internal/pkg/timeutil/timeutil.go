// Package timeutil converts timestamps stored as text without a zone.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the zone-less format SQLite's CURRENT_TIMESTAMP produces.
// Values in this format are always UTC.
const Layout = "2006-01-02 15:04:05"

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// FormatUTC formats t in Layout after converting it to UTC.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(Layout)
}

// ParseUTC parses a stored timestamp. Values without a zone are read as UTC,
// never as local time.
func ParseUTC(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: unsupported format", s)
}
