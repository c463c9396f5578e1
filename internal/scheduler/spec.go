package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind is the normalized kind of a schedule string.
type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

func (k Kind) String() string {
	if k == KindInterval {
		return "interval"
	}
	return "cron"
}

// Spec is a parsed schedule.
//
// Accepted forms:
//   - cron: "*/15 * * * *", "0 */5 * * * *" (seconds optional), "@hourly", "@every 30m"
//   - Go duration: "30m", "1h30m"
//   - HH:MM interval: "00:30" (30 minutes), "06:00" (6 hours)
//
// "cron:" forces cron parsing; "interval:" and "every:" force interval parsing.
type Spec struct {
	Kind  Kind
	Cron  string
	Every time.Duration
	Raw   string
}

var (
	reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseSchedule parses and validates raw. Cron expressions are checked
// against the parser the trigger uses, so a Spec that parses always schedules.
func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)

	switch {
	case strings.HasPrefix(low, "cron:"):
		return cronSpec(raw, strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return intervalSpec(raw, s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return intervalSpec(raw, s[len("every:"):])
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return cronSpec(raw, s)
	}
	sp, err := intervalSpec(raw, s)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid schedule %q (use cron like '*/15 * * * *', HH:MM like '00:30', or a duration like '30m')", raw)
	}
	return sp, nil
}

func cronSpec(raw, expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, fmt.Errorf("cron expression required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Spec{Kind: KindCron, Cron: expr, Raw: raw}, nil
}

func intervalSpec(raw, v string) (Spec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Spec{}, fmt.Errorf("interval required")
	}
	var (
		d   time.Duration
		err error
	)
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		d, err = hhmm(m[1], m[2])
	} else {
		d, err = time.ParseDuration(v)
	}
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d < time.Second {
		return Spec{}, fmt.Errorf("interval %q must be at least 1s", v)
	}
	return Spec{Kind: KindInterval, Every: d, Raw: raw}, nil
}

func hhmm(h, m string) (time.Duration, error) {
	hours, _ := strconv.Atoi(h)
	mins, _ := strconv.Atoi(m)
	if mins > 59 {
		return 0, fmt.Errorf("minutes out of range")
	}
	return time.Duration(hours)*time.Hour + time.Duration(mins)*time.Minute, nil
}

// Schedule returns the cron schedule for s.
func (s Spec) Schedule() (cron.Schedule, error) {
	if s.Kind == KindInterval {
		return cron.Every(s.Every), nil
	}
	return cronParser.Parse(s.Cron)
}

func (s Spec) String() string {
	if s.Kind == KindInterval {
		return "every " + s.Every.String()
	}
	return s.Cron
}
