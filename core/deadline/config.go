package deadline

import (
	"fmt"
	"strings"
	"time"
)

// Config describes the business calendar and the urgency thresholds.
type Config struct {
	Timezone          string `json:"timezone"`
	CutoffHour        int    `json:"cutoff_hour"`
	CutoffMinute      int    `json:"cutoff_minute"`
	OpenHour          int    `json:"open_hour"`
	OpenMinute        int    `json:"open_minute"`
	RestDay           string `json:"rest_day"`
	RestDayOpenHour   int    `json:"rest_day_open_hour"`
	RestDayOpenMinute int    `json:"rest_day_open_minute"`

	// Upper bounds, in minutes of remaining time, of the critical, urgent
	// and normal buckets.
	CriticalMinutes float64 `json:"critical_minutes"`
	UrgentMinutes   float64 `json:"urgent_minutes"`
	NormalMinutes   float64 `json:"normal_minutes"`
}

// DefaultConfig returns the calendar used when nothing is configured:
// cutoff 22:00, opening 08:00, Friday opening at 14:00, UTC.
func DefaultConfig() Config {
	c := Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset fields. Hours are only defaulted when both the hour
// and minute are zero so that midnight can still be configured explicitly
// through a non-zero minute.
func (c *Config) SetDefaults() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.CutoffHour == 0 && c.CutoffMinute == 0 {
		c.CutoffHour = 22
	}
	if c.OpenHour == 0 && c.OpenMinute == 0 {
		c.OpenHour = 8
	}
	if c.RestDay == "" {
		c.RestDay = "friday"
	}
	if c.RestDayOpenHour == 0 && c.RestDayOpenMinute == 0 {
		c.RestDayOpenHour = 14
	}
	if c.CriticalMinutes == 0 {
		c.CriticalMinutes = 30
	}
	if c.UrgentMinutes == 0 {
		c.UrgentMinutes = 60
	}
	if c.NormalMinutes == 0 {
		c.NormalMinutes = 180
	}
}

// Validate checks ranges and threshold ordering.
func (c Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("deadline: timezone: %w", err)
	}
	if _, err := parseWeekday(c.RestDay); err != nil {
		return fmt.Errorf("deadline: %w", err)
	}
	for name, hm := range map[string][2]int{
		"cutoff":        {c.CutoffHour, c.CutoffMinute},
		"open":          {c.OpenHour, c.OpenMinute},
		"rest day open": {c.RestDayOpenHour, c.RestDayOpenMinute},
	} {
		if hm[0] < 0 || hm[0] > 23 || hm[1] < 0 || hm[1] > 59 {
			return fmt.Errorf("deadline: invalid %s time %02d:%02d", name, hm[0], hm[1])
		}
	}
	if !(c.CriticalMinutes > 0 && c.CriticalMinutes < c.UrgentMinutes && c.UrgentMinutes < c.NormalMinutes) {
		return fmt.Errorf("deadline: thresholds must satisfy 0 < critical < urgent < normal")
	}
	return nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}
