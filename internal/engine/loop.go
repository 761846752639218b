/*

Cron-driven polling loop. The engine itself is strictly pull-based; this
loop is the external caller that pulls on a schedule, the way an operator
or keeper bot would.

*/

package engine

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// RunLoop schedules batch assessment and premium accrual on the given cron
// expressions and blocks until the context is cancelled.
func (e *Engine) RunLoop(ctx context.Context, assessSpec, accrueSpec string) error {
	scheduler := cron.New()

	if _, err := scheduler.AddFunc(assessSpec, func() {
		e.AssessAll()
	}); err != nil {
		return fmt.Errorf("register assessment schedule: %w", err)
	}
	if _, err := scheduler.AddFunc(accrueSpec, func() {
		e.AccrueAll()
	}); err != nil {
		return fmt.Errorf("register accrual schedule: %w", err)
	}

	e.log.Info().
		Str("assess", assessSpec).
		Str("accrue", accrueSpec).
		Msg("Starting engine polling loop")
	scheduler.Start()

	<-ctx.Done()
	e.log.Info().Msg("Engine polling loop stopped")

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	return nil
}
