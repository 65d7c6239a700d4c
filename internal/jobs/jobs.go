package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-co-op/gocron"
)

// CheckUpdatesJobID identifies the periodic update check.
const CheckUpdatesJobID = "check-updates"

// checkTimeout bounds one full check cycle.
const checkTimeout = 30 * time.Minute

// RegisterDefaultJobs registers every built-in job with the manager.
func RegisterDefaultJobs(jm *JobManager) {
	jm.Register(CheckUpdatesJobID, "Check for updates", RunCheckUpdates)
}

// RunCheckUpdates checks all registered repositories.
func RunCheckUpdates(ctx context.Context, app JobContext) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	results, err := app.Updater().CheckAll(ctx)
	if err != nil {
		return "", err
	}

	available, failed := 0, 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
		case r.Decision.Available:
			available++
		}
	}
	msg := fmt.Sprintf("Checked %d repositories: %d updates available, %d failed.", len(results), available, failed)
	if failed > 0 && failed == len(results) {
		return msg, fmt.Errorf("%s", msg)
	}
	return msg, nil
}

// StartJobs starts the background job scheduler. It returns nil when
// scheduled checks are disabled.
func StartJobs(app JobContext) *gocron.Scheduler {
	logger := log.WithPrefix("jobs")
	interval := app.Config().CheckInterval
	if interval == 0 {
		logger.Info("update check interval is 0, scheduled checks are disabled")
		return nil
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	logger.Info("scheduling job", "job", CheckUpdatesJobID, "every_minutes", interval)
	_, err := s.Every(interval).Minutes().Do(func() {
		logger.Debug("scheduler is triggering job", "job", CheckUpdatesJobID)
		// Go through the manager so manual and scheduled runs never overlap.
		if err := app.JobManager().RunJob(CheckUpdatesJobID, app); err != nil {
			logger.Warn("scheduled job could not start", "job", CheckUpdatesJobID, "err", err)
		}
	})
	if err != nil {
		logger.Error("error scheduling job", "job", CheckUpdatesJobID, "err", err)
		return nil
	}

	s.StartAsync()
	return s
}
