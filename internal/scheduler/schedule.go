package scheduler

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultInterval = time.Hour

// Schedule yields the start of the next tick.
type Schedule interface {
	Next(lastStart, now time.Time) time.Time
	String() string
}

// Every runs ticks a fixed interval apart, measured from tick start. A tick
// that overran its interval is followed immediately by the next one.
type Every time.Duration

func (e Every) Next(lastStart, now time.Time) time.Time {
	next := lastStart.Add(time.Duration(e))
	if next.Before(now) {
		return now
	}
	return next
}

func (e Every) String() string { return "every " + time.Duration(e).String() }

type cronSchedule struct {
	expr  string
	sched cron.Schedule
}

func (c cronSchedule) Next(_, now time.Time) time.Time { return c.sched.Next(now) }
func (c cronSchedule) String() string                  { return "cron " + c.expr }

var (
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	reHHMM     = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)
	reSeconds  = regexp.MustCompile(`^\d+$`)
)

// ParseSchedule accepts:
//   - cron: "0 * * * *", "@hourly", "@every 30m" (or forced with "cron:")
//   - Go duration: "1h", "55m"
//   - HH:MM interval: "01:00"
//   - bare seconds: "3600"
//
// Empty means DefaultInterval.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Every(DefaultInterval), nil
	}
	if len(s) >= 5 && strings.EqualFold(s[:5], "cron:") {
		return parseCron(strings.TrimSpace(s[5:]))
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}

	var d time.Duration
	switch {
	case reSeconds.MatchString(s):
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", raw, err)
		}
		if n > math.MaxInt64/int64(time.Second) {
			return nil, fmt.Errorf("schedule %q is too large", raw)
		}
		d = time.Duration(n) * time.Second
	case reHHMM.MatchString(s):
		m := reHHMM.FindStringSubmatch(s)
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return nil, fmt.Errorf("invalid minutes in %q", raw)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	default:
		var err error
		d, err = time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q (use cron like '0 * * * *', duration like '1h', HH:MM or seconds)", raw)
		}
	}
	if d <= 0 {
		return nil, fmt.Errorf("schedule interval must be > 0, got %q", raw)
	}
	return Every(d), nil
}

func parseCron(expr string) (Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return cronSchedule{expr: expr, sched: sched}, nil
}
