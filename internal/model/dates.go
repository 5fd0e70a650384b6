package model

import (
	"strings"
	"time"
)

var dateLayouts = []string{
	"2006-01-02",
	"20060102",
	"2006/01/02",
	"02/01/2006", // INPI
	"2006.01.02",
	time.RFC3339,
}

// NormalizeDate converts the date formats used by the sources to YYYY-MM-DD.
// Unparseable values are returned trimmed.
func NormalizeDate(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}
