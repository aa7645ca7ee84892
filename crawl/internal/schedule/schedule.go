// Package schedule holds the job timing rules: intervals, modes, and the
// state transitions applied when a run completes or an operator acts.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Unit is the interval unit.
type Unit string

const (
	Minutes Unit = "minutes"
	Days    Unit = "days"
)

// Mode is the repetition mode of a job.
type Mode string

const (
	Continuous Mode = "continuous"
	OneShot    Mode = "one-shot"
)

// State is the derived state of a job.
type State string

const (
	ActiveContinuous State = "active-continuous"
	ActiveOneShot    State = "active-one-shot"
	Inactive         State = "inactive"
)

var (
	ErrInvalidInterval = errors.New("schedule: interval must be positive")
	ErrInvalidUnit     = errors.New("schedule: unit must be minutes or days")
	ErrInvalidMode     = errors.New("schedule: mode must be continuous or one-shot")
)

// legacyZeroDelay is the delay used for a zero-day interval, which older
// clients sent to mean "run again shortly".
const legacyZeroDelay = time.Minute

// MaxInterval bounds an interval well below time.Duration overflow, so
// next_run always moves forward.
const MaxInterval = 100 * 365 * 24 * time.Hour

// Interval is a positive count of minutes or days.
type Interval struct {
	Value int  `json:"value"`
	Unit  Unit `json:"unit"`
}

// Validate rejects non-positive values, except the legacy zero-day form, and
// values longer than MaxInterval.
func (iv Interval) Validate() error {
	if iv.Unit != Minutes && iv.Unit != Days {
		return fmt.Errorf("%w: %q", ErrInvalidUnit, iv.Unit)
	}
	if iv.Value < 0 || (iv.Value == 0 && iv.Unit != Days) {
		return fmt.Errorf("%w: %d %s", ErrInvalidInterval, iv.Value, iv.Unit)
	}
	if int64(iv.Value) > int64(MaxInterval/iv.unitLength()) {
		return fmt.Errorf("%w: %d %s exceeds %d days", ErrInvalidInterval, iv.Value, iv.Unit, int64(MaxInterval/(24*time.Hour)))
	}
	return nil
}

func (iv Interval) unitLength() time.Duration {
	if iv.Unit == Days {
		return 24 * time.Hour
	}
	return time.Minute
}

// Duration is the wall-clock length of the interval. Days are 24 hours.
func (iv Interval) Duration() time.Duration {
	switch {
	case iv.Unit == Days && iv.Value == 0:
		return legacyZeroDelay
	case iv.Unit == Days:
		return time.Duration(iv.Value) * 24 * time.Hour
	default:
		return time.Duration(iv.Value) * time.Minute
	}
}

func (iv Interval) String() string {
	return fmt.Sprintf("%d %s", iv.Value, iv.Unit)
}

// ParseUnit accepts singular, plural and mixed-case unit names.
// An empty string means Days.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "day", "days", "d":
		return Days, nil
	case "minute", "minutes", "min", "m":
		return Minutes, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUnit, s)
	}
}

// ParseMode accepts "continuous" and the usual spellings of one-shot.
// An empty string means Continuous.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continuous", "recurring":
		return Continuous, nil
	case "one-shot", "oneshot", "one_shot", "once", "one-time":
		return OneShot, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// ModeOf maps the boolean "continuous" flag used by API clients.
func ModeOf(continuous bool) Mode {
	if continuous {
		return Continuous
	}
	return OneShot
}

// StateOf derives the state from the persisted active flag and mode.
func StateOf(active bool, mode Mode) State {
	switch {
	case !active:
		return Inactive
	case mode == OneShot:
		return ActiveOneShot
	default:
		return ActiveContinuous
	}
}

// FirstRun is the initial next_run of a job created at created.
func FirstRun(created time.Time, iv Interval) time.Time {
	return created.Add(iv.Duration())
}

// Outcome is the run-state after a completed attempt.
type Outcome struct {
	LastRun time.Time
	NextRun time.Time
	Active  bool
}

// AfterRun applies the completion transition for a run that started at
// started. Success and failure are treated alike. A continuous job moves
// next_run to started+interval and stays active; a one-shot job becomes
// inactive and keeps its next_run.
func AfterRun(mode Mode, iv Interval, started, prevNext time.Time) Outcome {
	if mode == OneShot {
		return Outcome{LastRun: started, NextRun: prevNext, Active: false}
	}
	return Outcome{LastRun: started, NextRun: started.Add(iv.Duration()), Active: true}
}
