package models

import (
	"strings"
	"time"
)

// Layouts tried when parsing raw statement dates. Banks are wildly
// inconsistent here; failure is acceptable and keeps the raw string.
var (
	dayFirstLayouts = []string{
		"02.01.2006",
		"02.01.06",
		"2.1.2006",
		"02/01/2006",
		"02-01-2006",
		"2006-01-02",
	}
	monthFirstLayouts = []string{
		"2006-01-02",
		"01/02/2006",
		"01-02-2006",
		"2006/01/02",
		"Jan 2, 2006",
	}
)

// ParseDate attempts a best-effort parse of a raw statement date string.
// Day-first ordering is assumed when the string uses dots or the owner's
// region is GB. Returns nil when no layout matches.
func ParseDate(dateStr, region string) *time.Time {
	s := strings.TrimSpace(dateStr)
	if s == "" {
		return nil
	}

	layouts := monthFirstLayouts
	if strings.Contains(s, ".") || region == "GB" {
		layouts = dayFirstLayouts
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
