// Package jobs runs background tasks one at a time and reports their
// status.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kobgit/kob-git-updater/internal/config"
	"github.com/kobgit/kob-git-updater/internal/updater"
)

// UpdateChecker runs a full update check.
type UpdateChecker interface {
	CheckAll(ctx context.Context) ([]updater.CheckResult, error)
}

// JobContext provides the dependencies a job needs. core.App implements it.
type JobContext interface {
	Config() *config.Config
	Updater() UpdateChecker
	JobManager() *JobManager
}

var (
	// ErrJobRunning is returned by RunJob while another job is in progress.
	ErrJobRunning = errors.New("a job is already running")
	// ErrJobNotFound is returned by RunJob for an unregistered id.
	ErrJobNotFound = errors.New("job not found")
)

// Task is the body of a job. The returned message ends up in the job
// status.
type Task func(ctx context.Context, app JobContext) (string, error)

const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

type job struct {
	task   Task
	status *JobStatus
}

type JobManager struct {
	mu      sync.Mutex
	jobs    map[string]*job
	running bool
	appCtx  JobContext
	logger  *log.Logger
	wg      sync.WaitGroup
}

func NewManager(appCtx JobContext) *JobManager {
	return &JobManager{
		jobs:   make(map[string]*job),
		appCtx: appCtx,
		logger: log.WithPrefix("jobs"),
	}
}

// Register adds a job under id, replacing any previous registration.
func (jm *JobManager) Register(id, name string, task Task) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs[id] = &job{task: task, status: &JobStatus{ID: id, Name: name, Status: StatusIdle}}
}

// RunJob starts job id in the background. Only one job runs at a time.
func (jm *JobManager) RunJob(id string, app JobContext) error {
	jm.mu.Lock()
	if jm.running {
		jm.mu.Unlock()
		return ErrJobRunning
	}
	j, ok := jm.jobs[id]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("job %q: %w", id, ErrJobNotFound)
	}
	if app == nil {
		app = jm.appCtx
	}

	jm.running = true
	j.status.Status = StatusRunning
	j.status.StartTime = time.Now()
	j.status.EndTime = time.Time{}
	j.status.Message = "Job started..."
	jm.wg.Add(1)
	jm.mu.Unlock()

	jm.logger.Info("starting job", "job", id)
	go func() {
		defer jm.wg.Done()
		var (
			msg string
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}

			jm.mu.Lock()
			j.status.EndTime = time.Now()
			if err != nil {
				j.status.Status = StatusFailed
				j.status.Message = err.Error()
			} else {
				j.status.Status = StatusSuccess
				j.status.Message = msg
				if msg == "" {
					j.status.Message = "Job completed successfully."
				}
			}
			jm.running = false
			jm.mu.Unlock()

			if err != nil {
				jm.logger.Error("job failed", "job", id, "err", err)
			} else {
				jm.logger.Info("finished job", "job", id, "message", msg)
			}
		}()

		msg, err = j.task(context.Background(), app)
	}()
	return nil
}

// Wait blocks until no started job is still running.
func (jm *JobManager) Wait() {
	jm.wg.Wait()
}

// GetStatus returns a snapshot of every registered job ordered by id.
func (jm *JobManager) GetStatus() []JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jm.jobs))
	for _, j := range jm.jobs {
		statuses = append(statuses, *j.status)
	}
	sort.Slice(statuses, func(a, b int) bool { return statuses[a].ID < statuses[b].ID })
	return statuses
}

// Status returns the status of job id.
func (jm *JobManager) Status(id string) (JobStatus, bool) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	j, ok := jm.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return *j.status, true
}
