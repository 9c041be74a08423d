package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // IANA zones for minimal container images

	"github.com/robfig/cron/v3"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// newParser accepts 5-field and 6-field (leading seconds) expressions plus descriptors.
func newParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// normalizeSpec trims the expression and expands the "HH:MM" daily shorthand.
func normalizeSpec(raw string) (string, error) {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return "", fmt.Errorf("%w: cron expression required", ErrScheduling)
	}
	if reHHMM.MatchString(s) {
		h, m, err := parseHHMM(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrScheduling, err)
		}
		return fmt.Sprintf("%d %d * * *", m, h), nil
	}
	if strings.HasPrefix(strings.ToUpper(s), "CRON_TZ=") || strings.HasPrefix(strings.ToUpper(s), "TZ=") {
		return "", fmt.Errorf("%w: set the timezone separately, not inside the expression", ErrScheduling)
	}
	return s, nil
}

// parseSpec validates spec in timezone tz and returns the schedule.
func (s *Service) parseSpec(spec, tz string) (cron.Schedule, error) {
	if _, err := loadLocation(tz); err != nil {
		return nil, err
	}
	sched, err := s.parser.Parse(withTZ(spec, tz))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cron expression %q: %v", ErrScheduling, spec, err)
	}
	return sched, nil
}

func withTZ(spec, tz string) string {
	if tz == "" || strings.HasPrefix(spec, "@every") {
		return spec
	}
	return "CRON_TZ=" + tz + " " + spec
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timezone %q: %v", ErrScheduling, tz, err)
	}
	return loc, nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// previewNext returns the next n run times of sched, formatted for logs.
func previewNext(sched cron.Schedule, from time.Time, n int) string {
	var b strings.Builder
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05 MST"))
	}
	return b.String()
}

// ValidateSpec reports whether expr is a schedulable expression in tz.
func ValidateSpec(expr, tz string) error {
	spec, err := normalizeSpec(expr)
	if err != nil {
		return err
	}
	if _, err := loadLocation(tz); err != nil {
		return err
	}
	if _, err := newParser().Parse(withTZ(spec, tz)); err != nil {
		return fmt.Errorf("%w: invalid cron expression %q: %v", ErrScheduling, expr, err)
	}
	return nil
}
