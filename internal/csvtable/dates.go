package csvtable

import (
	"fmt"
	"strings"
	"time"

	"github.com/starford/surveybox/internal/apperr"
)

// FileDateLayout is the month-day-year form embedded in file names.
const FileDateLayout = "01-02-2006"

var responseLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"2006-01-02",
	FileDateLayout,
	"1-2-2006",
	"2006-01-02 15:04:05",
	"01/02/2006 15:04",
	time.RFC3339,
}

// ParseResponseDate parses a survey response date in any of the layouts
// survey tools commonly emit. Dates without a zone are read in loc.
func ParseResponseDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty response date: %w", apperr.ErrParse)
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range responseLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("response date %q: %w", raw, apperr.ErrParse)
}

// FormatFileDate renders t as MM-DD-YYYY.
func FormatFileDate(t time.Time) string {
	return t.Format(FileDateLayout)
}

// ParseFileDate parses a MM-DD-YYYY date taken from a file name.
func ParseFileDate(s string) (time.Time, error) {
	t, err := time.Parse(FileDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("file date %q: %w", s, apperr.ErrParse)
	}
	return t, nil
}

// DayOf truncates t to its calendar day in its own location, returned as
// UTC midnight so days from different zones compare by date alone.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
