package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Five years of minutes bounds the next-run search so a satisfiable
// but distant schedule (Feb 29) still resolves.
const maxCronSearchIterations = 5 * 366 * 24 * 60

// TaskFunc is the work a scheduled task performs on each firing.
type TaskFunc func(ctx context.Context) error

// Task describes one periodic sweep. Schedule accepts five-field cron
// expressions and "@every <duration>" shorthand. Run fires under a
// distributed lock, so in a multi-instance deployment each firing
// executes on exactly one instance.
type Task struct {
	Name     string
	Schedule string
	Timezone string
	LockTTL  time.Duration
	Run      TaskFunc
}

// Validate verifies required fields and schedule syntax.
func (t *Task) Validate() error {
	if t == nil {
		return schedulerError(ErrValidation, "task is nil")
	}
	if strings.TrimSpace(t.Name) == "" {
		return schedulerError(ErrValidation, "task name is required")
	}
	if strings.TrimSpace(t.Schedule) == "" {
		return schedulerError(ErrValidation, "task schedule is required")
	}
	if t.Run == nil {
		return schedulerError(ErrValidation, "task run function is required")
	}
	if _, err := t.nextRun(time.Now().UTC()); err != nil {
		return err
	}
	return nil
}

func (t *Task) location() (*time.Location, error) {
	if strings.TrimSpace(t.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(strings.TrimSpace(t.Timezone))
	if err != nil {
		return nil, errors.Join(schedulerError(ErrValidation, "invalid task timezone"), err)
	}
	return loc, nil
}

func (t *Task) nextRun(now time.Time) (time.Time, error) {
	loc, err := t.location()
	if err != nil {
		return time.Time{}, err
	}
	return nextRunForSchedule(strings.TrimSpace(t.Schedule), now.In(loc), loc)
}

func nextRunForSchedule(schedule string, now time.Time, loc *time.Location) (time.Time, error) {
	if after, ok := strings.CutPrefix(schedule, "@every "); ok {
		interval, err := time.ParseDuration(strings.TrimSpace(after))
		if err != nil {
			return time.Time{}, errors.Join(schedulerError(ErrValidation, "invalid @every duration"), err)
		}
		if interval <= 0 {
			return time.Time{}, schedulerError(ErrValidation, "@every duration must be > 0")
		}
		return now.Add(interval).UTC(), nil
	}

	fields := strings.Fields(schedule)
	if len(fields) != 5 {
		return time.Time{}, schedulerError(ErrValidation, fmt.Sprintf("unsupported schedule format %q", schedule))
	}
	expr, err := parseCronExpression(fields)
	if err != nil {
		return time.Time{}, err
	}

	candidate := now.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < maxCronSearchIterations; i++ {
		local := candidate.In(loc)
		if expr.matches(local) {
			return local.UTC(), nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, schedulerError(ErrValidation, fmt.Sprintf("unable to find next run for schedule %q", schedule))
}

// cronField holds the matching values of one position as a bitmask.
// Cron values never exceed 59, so a uint64 covers every position.
type cronField struct {
	any  bool
	mask uint64
}

func (f cronField) contains(value int) bool {
	return f.any || f.mask&(1<<uint(value)) != 0
}

type cronExpression struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

func (e cronExpression) matches(candidate time.Time) bool {
	if !e.minute.contains(candidate.Minute()) ||
		!e.hour.contains(candidate.Hour()) ||
		!e.month.contains(int(candidate.Month())) {
		return false
	}

	// Standard cron day rule: when both day fields are restricted,
	// either one matching fires the task.
	domMatch := e.dayOfMonth.contains(candidate.Day())
	dowMatch := e.dayOfWeek.contains(int(candidate.Weekday()))
	switch {
	case e.dayOfMonth.any && e.dayOfWeek.any:
		return true
	case e.dayOfMonth.any:
		return dowMatch
	case e.dayOfWeek.any:
		return domMatch
	default:
		return domMatch || dowMatch
	}
}

func parseCronExpression(fields []string) (*cronExpression, error) {
	specs := [5]struct {
		name        string
		lo, hi      int
		sundayWraps bool
	}{
		{"minute", 0, 59, false},
		{"hour", 0, 23, false},
		{"day-of-month", 1, 31, false},
		{"month", 1, 12, false},
		{"day-of-week", 0, 7, true},
	}

	var parsed [5]cronField
	for i, spec := range specs {
		field, err := parseCronField(fields[i], spec.lo, spec.hi, spec.sundayWraps)
		if err != nil {
			return nil, errors.Join(schedulerError(ErrValidation, fmt.Sprintf("invalid %s field %q", spec.name, fields[i])), err)
		}
		parsed[i] = field
	}

	return &cronExpression{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

func parseCronField(raw string, lo, hi int, sundayWraps bool) (cronField, error) {
	field := strings.TrimSpace(raw)
	if field == "" {
		return cronField{}, schedulerError(ErrValidation, "empty field")
	}
	if field == "*" {
		return cronField{any: true}, nil
	}

	var result cronField
	for _, segment := range strings.Split(field, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			return cronField{}, schedulerError(ErrValidation, "empty segment")
		}
		if err := result.addSegment(segment, lo, hi, sundayWraps); err != nil {
			return cronField{}, err
		}
	}
	if result.mask == 0 {
		return cronField{}, schedulerError(ErrValidation, "no values parsed")
	}
	return result, nil
}

// addSegment parses "base", "base/step", "a-b" or "a-b/step" and sets
// the matching bits.
func (f *cronField) addSegment(segment string, lo, hi int, sundayWraps bool) error {
	base := segment
	step := 1
	if basePart, stepRaw, hasStep := strings.Cut(segment, "/"); hasStep {
		base = strings.TrimSpace(basePart)
		parsedStep, err := strconv.Atoi(strings.TrimSpace(stepRaw))
		if err != nil || parsedStep <= 0 {
			return schedulerError(ErrValidation, fmt.Sprintf("invalid step value %q", stepRaw))
		}
		step = parsedStep
	}
	if base == "" {
		base = "*"
	}

	start, end := lo, hi
	switch {
	case base == "*":
		// full range
	case strings.Contains(base, "-"):
		startRaw, endRaw, _ := strings.Cut(base, "-")
		rangeStart, err := strconv.Atoi(strings.TrimSpace(startRaw))
		if err != nil {
			return schedulerError(ErrValidation, fmt.Sprintf("invalid range start %q", startRaw))
		}
		rangeEnd, err := strconv.Atoi(strings.TrimSpace(endRaw))
		if err != nil {
			return schedulerError(ErrValidation, fmt.Sprintf("invalid range end %q", endRaw))
		}
		start = wrapSunday(rangeStart, sundayWraps)
		end = wrapSunday(rangeEnd, sundayWraps)
	default:
		value, err := strconv.Atoi(base)
		if err != nil {
			return schedulerError(ErrValidation, fmt.Sprintf("invalid value %q", base))
		}
		start = wrapSunday(value, sundayWraps)
		end = start
		if step > 1 {
			end = hi
		}
	}

	if start < lo || start > hi || end < lo || end > hi {
		return schedulerError(ErrValidation, fmt.Sprintf("segment %q out of range [%d,%d]", segment, lo, hi))
	}
	if end < start {
		return schedulerError(ErrValidation, fmt.Sprintf("invalid range %d-%d", start, end))
	}

	for value := start; value <= end; value += step {
		wrapped := wrapSunday(value, sundayWraps)
		if wrapped < lo || wrapped > hi {
			continue
		}
		f.mask |= 1 << uint(wrapped)
	}
	return nil
}

// wrapSunday folds day-of-week 7 onto 0 so both spellings match.
func wrapSunday(value int, enabled bool) int {
	if enabled && value == 7 {
		return 0
	}
	return value
}
