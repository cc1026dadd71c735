package order

import (
	"fmt"
	"strings"
	"time"
)

// ClockWindow is a pair of wall-clock timestamps written in a strftime-style format.
type ClockWindow struct {
	Start  string
	End    string
	Format string
}

var strftimeLayout = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'p': "PM",
	'b': "Jan",
	'B': "January",
	'%': "%",
}

// Layout converts a strftime format such as "%H:%M:%S" into a Go time layout.
func Layout(format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(format) {
			return "", fmt.Errorf("dangling %% in timestamp format %q", format)
		}
		i++
		layout, ok := strftimeLayout[format[i]]
		if !ok {
			return "", fmt.Errorf("unsupported directive %%%c in timestamp format %q", format[i], format)
		}
		b.WriteString(layout)
	}
	return b.String(), nil
}

func (w ClockWindow) parse(value string, loc *time.Location) (time.Time, error) {
	format := w.Format
	if format == "" {
		format = DefaultTimestampFormat
	}
	layout, err := Layout(format)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(layout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q with format %q: %v", value, format, err)
	}
	return t, nil
}

func (w ClockWindow) hasDate() bool {
	return strings.Contains(w.Format, "%Y") || strings.Contains(w.Format, "%y") || strings.Contains(w.Format, "%d")
}

// Seconds returns the length of the window. A clock-only window whose end is before
// its start is taken to cross midnight.
func (w ClockWindow) Seconds() (float64, error) {
	start, err := w.parse(w.Start, time.UTC)
	if err != nil {
		return 0, err
	}
	end, err := w.parse(w.End, time.UTC)
	if err != nil {
		return 0, err
	}
	if !end.After(start) && !w.hasDate() {
		end = end.Add(24 * time.Hour)
	}
	d := end.Sub(start).Seconds()
	if d < 0 {
		return 0, fmt.Errorf("window ends before it starts: %s > %s", w.Start, w.End)
	}
	return d, nil
}

// Offsets returns the start and end of the window as offsets from the start of the day.
func (w ClockWindow) Offsets() (float64, float64, error) {
	start, err := w.parse(w.Start, time.UTC)
	if err != nil {
		return 0, 0, err
	}
	end, err := w.parse(w.End, time.UTC)
	if err != nil {
		return 0, 0, err
	}
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	s := start.Sub(day).Seconds()
	e := end.Sub(day).Seconds()
	if e <= s && !w.hasDate() {
		e += 24 * 60 * 60
	}
	return s, e, nil
}

// Schedule resolves the window for a run date in the given timezone. It returns the
// requested recording length and the UTC instant after which recording must stop.
// An empty runDate means the current date in that timezone.
func (w ClockWindow) Schedule(runDate, timezone string, now time.Time) (time.Duration, time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("unknown timezone %q: %v", timezone, err)
	}

	var start, end time.Time
	if w.hasDate() {
		if start, err = w.parse(w.Start, loc); err != nil {
			return 0, time.Time{}, err
		}
		if end, err = w.parse(w.End, loc); err != nil {
			return 0, time.Time{}, err
		}
	} else {
		day := now.In(loc)
		if runDate != "" {
			day, err = time.ParseInLocation("2006-01-02", runDate, loc)
			if err != nil {
				return 0, time.Time{}, fmt.Errorf("invalid run_date %q: %v", runDate, err)
			}
		}
		startClock, err := w.parse(w.Start, loc)
		if err != nil {
			return 0, time.Time{}, err
		}
		endClock, err := w.parse(w.End, loc)
		if err != nil {
			return 0, time.Time{}, err
		}
		start = onDay(day, startClock, loc)
		end = onDay(day, endClock, loc)
		if !end.After(start) {
			end = end.AddDate(0, 0, 1)
		}
	}

	if !end.After(start) {
		return 0, time.Time{}, fmt.Errorf("window ends before it starts: %s > %s", w.Start, w.End)
	}
	return end.Sub(start), end.UTC(), nil
}

func onDay(day, clock time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, loc)
}
