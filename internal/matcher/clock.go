package matcher

import (
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// parseClock turns "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, false
	}
	hour, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(strings.TrimSpace(m))
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

// parseRange turns "HH:MM-HH:MM" into a pair of minutes since midnight.
func parseRange(s string) (start, end int, ok bool) {
	a, b, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, false
	}
	if start, ok = parseClock(a); !ok {
		return 0, 0, false
	}
	if end, ok = parseClock(b); !ok {
		return 0, 0, false
	}
	return start, end, true
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func (e *Engine) parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation(dateLayout, s, e.location())
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
