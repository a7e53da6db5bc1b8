package scheduler

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/mtzanidakis/conclave/internal/swarm"
)

// ValidateCron rejects expressions gronx cannot parse.
func ValidateCron(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("%w: invalid cron expression %q", swarm.ErrConfig, expr)
	}
	return nil
}

// NextRun returns the first tick of expr strictly after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	if err := ValidateCron(expr); err != nil {
		return time.Time{}, err
	}
	next, err := gronx.NextTickAfter(expr, from, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("next tick of %q: %w", expr, err)
	}
	return next, nil
}
