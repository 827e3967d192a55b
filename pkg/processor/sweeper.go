package processor

import (
	"fmt"
	"time"

	"github.com/rankwell/opportunity-engine/pkg/logging"
	"github.com/rankwell/opportunity-engine/pkg/models"
	"github.com/rankwell/opportunity-engine/pkg/store"
)

// Sweeper periodically fails processing jobs whose run evaporated, e.g.
// after an unclean restart. A live run always finishes well inside the
// stale threshold because every batch has a hard timeout.
type Sweeper struct {
	store          store.Store
	logger         *logging.Logger
	checkInterval  time.Duration
	staleThreshold time.Duration
	stopCh         chan struct{}
}

// NewSweeper creates a sweeper. Zero durations get defaults.
func NewSweeper(st store.Store, logger *logging.Logger, checkInterval, staleThreshold time.Duration) *Sweeper {
	if checkInterval <= 0 {
		checkInterval = 1 * time.Minute
	}
	if staleThreshold <= 0 {
		staleThreshold = 30 * time.Minute
	}
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	return &Sweeper{
		store:          st,
		logger:         logger.WithField("component", "sweeper"),
		checkInterval:  checkInterval,
		staleThreshold: staleThreshold,
		stopCh:         make(chan struct{}),
	}
}

// Start begins the background sweep loop
func (s *Sweeper) Start() {
	s.logger.Info("Sweeper started", map[string]interface{}{
		"check_interval":  s.checkInterval.String(),
		"stale_threshold": s.staleThreshold.String(),
	})
	go s.run()
}

// Stop gracefully stops the sweeper
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			s.logger.Info("Sweeper stopped")
			return
		}
	}
}

// sweep fails jobs stuck in processing past the stale threshold.
func (s *Sweeper) sweep() {
	jobs, err := s.store.GetJobs("", models.JobStatusProcessing)
	if err != nil {
		s.logger.Error("Failed to list processing jobs", map[string]interface{}{"error": err.Error()})
		return
	}

	now := time.Now()
	for _, job := range jobs {
		if job.StartedAt == nil || !job.StartedAt.Add(s.staleThreshold).Before(now) {
			continue
		}

		s.logger.Warn("Failing stale job", map[string]interface{}{
			"job_id":     job.ID,
			"processing": now.Sub(*job.StartedAt).String(),
		})

		// The serialized update re-checks staleness under the store lock,
		// so a job that completed since the listing is left alone.
		_, _, err := s.store.UpdateJobIf(job.ID,
			func(j *models.AnalysisJob) bool {
				return j.Status == models.JobStatusProcessing &&
					j.StartedAt != nil && j.StartedAt.Add(s.staleThreshold).Before(now)
			},
			func(j *models.AnalysisJob) error {
				j.Errors = append(j.Errors, models.JobError{
					Message:   fmt.Sprintf("job stale: processing for over %v", s.staleThreshold),
					Timestamp: now,
				})
				return j.Transition(models.JobStatusFailed, "stale job sweep")
			})
		if err != nil && err != store.ErrJobNotFound {
			s.logger.Error("Failed to fail stale job", map[string]interface{}{
				"job_id": job.ID,
				"error":  err.Error(),
			})
		}
	}
}
