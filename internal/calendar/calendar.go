// Package calendar models trading sessions: session close times, weekends
// and an exchange holiday list. The retry expiry rule ("past the close of the
// next trading session after first failure") lives here.
package calendar

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const dayKeyLayout = "2006-01-02"

// Config describes one exchange's session.
type Config struct {
	Timezone     string // e.g. "Asia/Kolkata"
	SessionOpen  string // "09:15"
	SessionClose string // "15:30"
	HolidaysFile string // optional yaml file with a "holidays:" list
}

type Calendar struct {
	loc                  *time.Location
	openHour, openMin    int
	closeHour, closeMin  int
	holidays             map[string]struct{}
}

func New(cfg Config) (*Calendar, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("calendar: bad timezone %q: %w", tz, err)
		}
	}
	oh, om, err := parseClock(cfg.SessionOpen, 9, 15)
	if err != nil {
		return nil, err
	}
	ch, cm, err := parseClock(cfg.SessionClose, 15, 30)
	if err != nil {
		return nil, err
	}
	c := &Calendar{
		loc:       loc,
		openHour:  oh,
		openMin:   om,
		closeHour: ch,
		closeMin:  cm,
		holidays:  make(map[string]struct{}),
	}
	if path := strings.TrimSpace(cfg.HolidaysFile); path != "" {
		days, err := loadHolidays(path)
		if err != nil {
			return nil, err
		}
		for _, d := range days {
			c.holidays[d] = struct{}{}
		}
	}
	return c, nil
}

func parseClock(s string, defHour, defMin int) (int, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defHour, defMin, nil
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("calendar: bad clock %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("calendar: bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("calendar: bad minute in %q", s)
	}
	return h, m, nil
}

func loadHolidays(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calendar: reading holidays file: %w", err)
	}
	var doc struct {
		Holidays []string `yaml:"holidays"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("calendar: parsing holidays file: %w", err)
	}
	out := make([]string, 0, len(doc.Holidays))
	for _, d := range doc.Holidays {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, err := time.Parse(dayKeyLayout, d); err != nil {
			return nil, fmt.Errorf("calendar: bad holiday date %q, want YYYY-MM-DD", d)
		}
		out = append(out, d)
	}
	return out, nil
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsTradingDay reports whether t falls on a weekday that is not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	t = t.In(c.loc)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := c.holidays[t.Format(dayKeyLayout)]
	return !holiday
}

// SessionClose returns the close timestamp of the session on t's day.
func (c *Calendar) SessionClose(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), c.closeHour, c.closeMin, 0, 0, c.loc)
}

// SessionOpen returns the open timestamp of the session on t's day.
func (c *Calendar) SessionOpen(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), c.openHour, c.openMin, 0, 0, c.loc)
}

// InSession reports whether t is inside a trading session.
func (c *Calendar) InSession(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	t = t.In(c.loc)
	return !t.Before(c.SessionOpen(t)) && t.Before(c.SessionClose(t))
}

// NextTradingDay returns the first trading day strictly after t's day.
func (c *Calendar) NextTradingDay(t time.Time) time.Time {
	t = t.In(c.loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
	for {
		day = day.AddDate(0, 0, 1)
		if c.IsTradingDay(day) {
			return day
		}
	}
}

// ExpiryDeadline is the close of the next trading session after the first
// failure. An order still failed past this moment is expired.
func (c *Calendar) ExpiryDeadline(firstFailed time.Time) time.Time {
	return c.SessionClose(c.NextTradingDay(firstFailed))
}
