// Package schedule wraps cron expression parsing in a typed value so that
// watch schedules are validated once and matched without ad hoc re-parsing.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the standard five fields: minute, hour, day-of-month,
// month, day-of-week. Descriptor shortcuts like @hourly are not accepted.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Cron is a parsed five-field cron expression.
type Cron struct {
	expr  string
	sched cron.Schedule
}

// Parse validates and compiles a five-field cron expression.
func Parse(expr string) (*Cron, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &Cron{expr: expr, sched: sched}, nil
}

// Validate reports whether expr is a syntactically valid five-field cron
// expression.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// String returns the original expression.
func (c *Cron) String() string {
	return c.expr
}

// Next returns the earliest matching time strictly after t.
func (c *Cron) Next(t time.Time) time.Time {
	return c.sched.Next(t)
}

// NextAfter returns the next due time for a watch whose previous due time
// was due, observed at now. The result is always the earliest occurrence
// strictly after due; if the scheduler ran late and that occurrence is
// already in the past, the occurrence after now is used instead, so a
// missed tick never fires more than once to catch up.
func (c *Cron) NextAfter(due, now time.Time) time.Time {
	next := c.sched.Next(due)
	if !next.After(now) {
		next = c.sched.Next(now)
	}
	return next
}
