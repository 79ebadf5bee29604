package sessionmgr

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// sweepInterval is how often the background dead-session sweep runs.
const sweepInterval = 5 * time.Second

// StartSweep registers a recurring job on cron that evicts dead sessions
// every sweepInterval. The job stops when cron is shut down.
func (m *Manager) StartSweep(cron gocron.Scheduler) error {
	_, err := cron.NewJob(
		gocron.DurationJob(sweepInterval),
		gocron.NewTask(func() {
			if removed := m.RemoveDeadSessions(); len(removed) > 0 {
				m.logger.Info("dead-session sweep evicted sessions", zap.Int("count", len(removed)))
			}
		}),
		gocron.WithTags("sessionmgr-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("sessionmgr: register dead-session sweep: %w", err)
	}
	return nil
}
