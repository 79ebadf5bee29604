package dispatcher

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// trackerInterval is how often the timeout tracker and expiry sweep run.
const trackerInterval = 1 * time.Second

// StartSweep registers the timeout tracker and expiry sweep as recurring
// jobs on cron, each ticking every trackerInterval.
func (d *Dispatcher) StartSweep(cron gocron.Scheduler) error {
	if _, err := cron.NewJob(
		gocron.DurationJob(trackerInterval),
		gocron.NewTask(d.runTimeoutTracker),
		gocron.WithTags("dispatcher-timeout-tracker"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("dispatcher: register timeout tracker: %w", err)
	}

	if _, err := cron.NewJob(
		gocron.DurationJob(trackerInterval),
		gocron.NewTask(d.runExpirySweep),
		gocron.WithTags("dispatcher-expiry-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("dispatcher: register expiry sweep: %w", err)
	}
	return nil
}
