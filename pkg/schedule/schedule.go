package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes the next run time after from.
type Schedule interface {
	Next(from time.Time) time.Time
}

// everySchedule runs at fixed intervals.
type everySchedule struct {
	interval time.Duration
}

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

// dailySchedule runs at a specific time each day.
type dailySchedule struct {
	hour   int
	minute int
	loc    *time.Location
}

// Daily creates a schedule that runs at a specific UTC time each day.
func Daily(hour, minute int) Schedule {
	return DailyIn(hour, minute, time.UTC)
}

// DailyIn is Daily in a specific time zone, for household-local jobs such as
// calendar sync.
func DailyIn(hour, minute int, loc *time.Location) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return &dailySchedule{hour: hour, minute: minute, loc: loc}
}

func (s *dailySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// weeklySchedule runs at a specific day and time each week.
type weeklySchedule struct {
	day    time.Weekday
	hour   int
	minute int
	loc    *time.Location
}

// Weekly creates a schedule that runs at a specific day and UTC time each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return &weeklySchedule{day: day, hour: hour, minute: minute, loc: time.UTC}
}

func (s *weeklySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)

	daysUntil := int(s.day - from.Weekday())
	if daysUntil < 0 {
		daysUntil += 7
	}

	next := time.Date(from.Year(), from.Month(), from.Day()+daysUntil, s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// cronSchedule wraps a cron expression.
type cronSchedule struct {
	schedule cron.Schedule
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Cron creates a schedule from a five-field cron expression or a descriptor
// such as "@hourly" or "@every 15m".
func Cron(expr string) (Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return &cronSchedule{schedule: sched}, nil
}

// MustCron is Cron for expressions known at compile time.
func MustCron(expr string) Schedule {
	s, err := Cron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Parse reads a schedule from configuration. Accepted forms:
//
//	every 30m          fixed interval
//	daily 03:15        every day at 03:15 UTC
//	weekly mon 04:00   every Monday at 04:00 UTC
//	*/5 * * * *        cron expression (and @descriptors)
func Parse(spec string) (Schedule, error) {
	fields := strings.Fields(strings.TrimSpace(spec))
	if len(fields) == 0 {
		return nil, fmt.Errorf("schedule: empty spec")
	}

	switch strings.ToLower(fields[0]) {
	case "every":
		if len(fields) != 2 {
			return nil, fmt.Errorf("schedule: %q: want \"every <duration>\"", spec)
		}
		d, err := time.ParseDuration(fields[1])
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("schedule: %q: invalid interval", spec)
		}
		return Every(d), nil
	case "daily":
		if len(fields) != 2 {
			return nil, fmt.Errorf("schedule: %q: want \"daily HH:MM\"", spec)
		}
		h, m, err := parseClock(fields[1])
		if err != nil {
			return nil, fmt.Errorf("schedule: %q: %w", spec, err)
		}
		return Daily(h, m), nil
	case "weekly":
		if len(fields) != 3 {
			return nil, fmt.Errorf("schedule: %q: want \"weekly <day> HH:MM\"", spec)
		}
		day, ok := weekdays[strings.ToLower(fields[1])[:min(3, len(fields[1]))]]
		if !ok {
			return nil, fmt.Errorf("schedule: %q: unknown weekday", spec)
		}
		h, m, err := parseClock(fields[2])
		if err != nil {
			return nil, fmt.Errorf("schedule: %q: %w", spec, err)
		}
		return Weekly(day, h, m), nil
	}
	return Cron(spec)
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q", s)
	}
	return t.Hour(), t.Minute(), nil
}
