package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rankwell/opportunity-engine/pkg/logging"
	"github.com/rankwell/opportunity-engine/pkg/models"
	"github.com/rankwell/opportunity-engine/pkg/retry"
	"github.com/rankwell/opportunity-engine/pkg/revenue"
	"github.com/rankwell/opportunity-engine/pkg/scoring"
	"github.com/rankwell/opportunity-engine/pkg/store"
)

// ErrInvalidJobType is returned by CreateJob for unknown job types.
var ErrInvalidJobType = fmt.Errorf("invalid job type")

// ErrNoFailedItems is returned by RetryFailedItems when the source job has
// nothing to retry.
var ErrNoFailedItems = fmt.Errorf("job has no failed items")

// ErrJobNotTerminal is returned by RetryFailedItems while the source job is
// still running.
var ErrJobNotTerminal = fmt.Errorf("job is still running")

// NodeScorer computes an opportunity score for one node.
type NodeScorer interface {
	Score(node models.NodeMetrics) models.OpportunityScore
}

// Projector computes a revenue projection for one node.
type Projector interface {
	Project(node models.NodeMetrics, targetPosition int, partial *models.PartialAssumptions) models.RevenueProjection
}

// Recorder receives processing telemetry. Implemented by the Prometheus
// exporter; a no-op implementation is substituted when nil.
type Recorder interface {
	RecordJobCreated(jobType string)
	RecordNodeOutcome(result string)
	RecordBatchOutcome(result string)
	ObserveJobDuration(jobType string, seconds float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordJobCreated(string)            {}
func (nopRecorder) RecordNodeOutcome(string)           {}
func (nopRecorder) RecordBatchOutcome(string)          {}
func (nopRecorder) ObserveJobDuration(string, float64) {}

// Config tunes batch execution defaults. Per-job options override these.
type Config struct {
	BatchSize             int           // nodes per batch
	MaxConcurrentBatches  int           // semaphore width
	BatchTimeout          time.Duration // hard per-batch budget
	DefaultTargetPosition int           // revenue projection target
	RetryBatchSize        int           // batch size for retry jobs
	RetryMaxRetries       int           // persistence retry budget for retry jobs
	PersistRetries        int           // persistence retry budget for fresh jobs
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:             100,
		MaxConcurrentBatches:  5,
		BatchTimeout:          5 * time.Minute,
		DefaultTargetPosition: 3,
		RetryBatchSize:        50,
		RetryMaxRetries:       5,
		PersistRetries:        3,
	}
}

// BatchProcessor runs scoring and revenue analysis across a project's nodes
// with bounded concurrency. Jobs are fire-and-forget: CreateJob returns a
// pending job immediately and the run proceeds in the background; callers
// observe outcomes by polling the job record.
type BatchProcessor struct {
	store     store.Store
	config    Config
	logger    *logging.Logger
	metrics   Recorder
	newScorer func(maxRevenue float64) (NodeScorer, error)
	projector Projector

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a batch processor. logger and recorder may be nil.
func New(st store.Store, config Config, logger *logging.Logger, recorder Recorder) *BatchProcessor {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.MaxConcurrentBatches <= 0 {
		config.MaxConcurrentBatches = 5
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 5 * time.Minute
	}
	if config.DefaultTargetPosition <= 0 {
		config.DefaultTargetPosition = 3
	}
	if config.RetryBatchSize <= 0 {
		config.RetryBatchSize = 50
	}
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &BatchProcessor{
		store:   st,
		config:  config,
		logger:  logger.WithField("component", "processor"),
		metrics: recorder,
		newScorer: func(maxRevenue float64) (NodeScorer, error) {
			cfg := scoring.DefaultConfig()
			if maxRevenue > 0 {
				cfg.MaxRevenue = maxRevenue
			}
			return scoring.NewScorer(cfg)
		},
		projector: revenue.NewCalculator(revenue.DefaultConfig()),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// CreateJob validates, persists and asynchronously starts a new analysis
// job. The returned job is in pending state; the caller polls for progress.
func (p *BatchProcessor) CreateJob(jobType models.JobType, projectID string, opts models.JobOptions) (*models.AnalysisJob, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobType, jobType)
	}
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = p.config.BatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = p.config.MaxConcurrentBatches
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = p.config.BatchTimeout
	}
	if opts.TargetPosition <= 0 {
		opts.TargetPosition = p.config.DefaultTargetPosition
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = p.config.PersistRetries
	}

	job := &models.AnalysisJob{
		ID:        uuid.New().String(),
		Type:      jobType,
		ProjectID: projectID,
		Status:    models.JobStatusPending,
		Options:   opts,
		CreatedAt: time.Now(),
	}

	if err := p.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	p.metrics.RecordJobCreated(string(jobType))
	p.start(job.ID)

	p.logger.Info("Job created", map[string]interface{}{
		"job_id":     job.ID,
		"type":       jobType,
		"project_id": projectID,
	})

	return job, nil
}

// CancelJob requests cancellation of a running job. Cancel is only valid
// while the job is processing; unknown, pending and terminal jobs return
// false. The status flip goes through the store's serialized conditional
// update, so a job that completes or fails concurrently keeps its record.
// Cancellation is cooperative: no new batches are dispatched, but batches
// already in flight finish and still fold their counters in.
func (p *BatchProcessor) CancelJob(id string) (bool, error) {
	_, applied, err := p.store.UpdateJobIf(id,
		func(j *models.AnalysisJob) bool { return j.Status == models.JobStatusProcessing },
		func(j *models.AnalysisJob) error {
			j.CancelRequested = true
			j.Errors = append(j.Errors, models.JobError{
				Message:   "job cancelled by user",
				Timestamp: time.Now(),
			})
			return j.Transition(models.JobStatusFailed, "cancelled")
		})
	if err == store.ErrJobNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	p.mu.Lock()
	if cancel, ok := p.cancels[id]; ok {
		cancel()
	}
	p.mu.Unlock()

	p.logger.Info("Job cancelled", map[string]interface{}{"job_id": id})
	return true, nil
}

// RetryFailedItems creates a new job scoped to the failed node IDs of a
// terminal source job. The source job's history is never mutated. Retry
// jobs run with smaller batches and a higher persistence retry budget.
func (p *BatchProcessor) RetryFailedItems(sourceID string) (*models.AnalysisJob, error) {
	source, err := p.store.GetJob(sourceID)
	if err != nil {
		return nil, err
	}
	if !source.Terminal() {
		return nil, ErrJobNotTerminal
	}

	failedIDs := source.FailedNodeIDs()
	if len(failedIDs) == 0 {
		return nil, ErrNoFailedItems
	}

	opts := source.Options
	opts.BatchSize = p.config.RetryBatchSize
	opts.MaxRetries = p.config.RetryMaxRetries
	opts.RetryAttempt = source.Options.RetryAttempt + 1
	opts.NodeFilter = failedIDs

	job := &models.AnalysisJob{
		ID:          uuid.New().String(),
		Type:        source.Type,
		ProjectID:   source.ProjectID,
		Status:      models.JobStatusPending,
		Options:     opts,
		SourceJobID: source.ID,
		CreatedAt:   time.Now(),
	}

	if err := p.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("failed to persist retry job: %w", err)
	}

	p.metrics.RecordJobCreated(string(job.Type))
	p.start(job.ID)

	p.logger.Info("Retry job created", map[string]interface{}{
		"job_id":     job.ID,
		"source_job": source.ID,
		"nodes":      len(failedIDs),
		"attempt":    opts.RetryAttempt,
	})

	return job, nil
}

// Wait blocks until all in-flight job runs finish. Used by shutdown.
func (p *BatchProcessor) Wait() {
	p.wg.Wait()
}

// ActiveJobs reports how many job runs are currently registered.
func (p *BatchProcessor) ActiveJobs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}

// start spawns the background run for a persisted job and registers its
// cancel function.
func (p *BatchProcessor) start(id string) {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.cancels[id] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.cancels, id)
			p.mu.Unlock()
			cancel()
		}()
		p.runJob(ctx, id)
	}()
}

// runJob executes one job end to end.
func (p *BatchProcessor) runJob(ctx context.Context, id string) {
	log := p.logger.WithField("job_id", id)
	started := time.Now()

	stillProcessing := func(j *models.AnalysisJob) bool {
		return j.Status == models.JobStatusProcessing
	}

	job, applied, err := p.applyJobUpdate(ctx, id,
		func(j *models.AnalysisJob) bool { return j.Status == models.JobStatusPending },
		func(j *models.AnalysisJob) error {
			return j.Transition(models.JobStatusProcessing, "run started")
		})
	if err != nil {
		log.Error("Failed to mark job processing", map[string]interface{}{"error": err.Error()})
		return
	}
	if !applied {
		log.Warn("Job not startable", map[string]interface{}{"status": job.Status})
		return
	}

	nodes, err := p.store.GetProjectNodes(job.ProjectID)
	if err != nil {
		p.failJob(ctx, job, fmt.Sprintf("failed to fetch project nodes: %v", err))
		return
	}
	nodes = filterNodes(nodes, job.Options.NodeFilter)

	// An empty project completes immediately at full progress.
	if len(nodes) == 0 {
		p.applyJobUpdate(ctx, id, stillProcessing, func(j *models.AnalysisJob) error {
			j.TotalItems = 0
			j.Progress = 100
			j.Result = &models.JobSummary{SuccessRate: 100}
			return j.Transition(models.JobStatusCompleted, "no nodes to process")
		})
		p.metrics.ObserveJobDuration(string(job.Type), time.Since(started).Seconds())
		log.Info("Job completed: empty project")
		return
	}

	_, applied, err = p.applyJobUpdate(ctx, id, stillProcessing, func(j *models.AnalysisJob) error {
		j.TotalItems = len(nodes)
		return nil
	})
	if err != nil {
		log.Error("Failed to persist job totals", map[string]interface{}{"error": err.Error()})
		return
	}
	if !applied {
		// Cancelled before dispatch; the terminal record stands.
		return
	}

	scorer, err := p.newScorer(maxRevenue(nodes))
	if err != nil {
		p.failJob(ctx, job, fmt.Sprintf("invalid scoring configuration: %v", err))
		return
	}

	batches := partition(nodes, job.Options.BatchSize)
	sem := make(chan struct{}, job.Options.Concurrency)
	var wg sync.WaitGroup

	log.Info("Dispatching batches", map[string]interface{}{
		"nodes":       len(nodes),
		"batches":     len(batches),
		"concurrency": job.Options.Concurrency,
	})

	// Batches dispatch in index order; completion order is whatever the
	// semaphore yields. Cancellation stops dispatch only.
dispatch:
	for i, batch := range batches {
		select {
		case <-ctx.Done():
			log.Info("Dispatch halted by cancellation", map[string]interface{}{"remaining": len(batches) - i})
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(batch []models.NodeMetrics) {
			defer wg.Done()
			defer func() { <-sem }()
			p.processBatch(job, batch, scorer)
		}(batch)
	}

	wg.Wait()

	// Counters folded by concurrent batches live in the stored record, so
	// the summary is built inside the serialized update. A cancelled or
	// swept job is already terminal and stays failed.
	final, applied, err := p.applyJobUpdate(ctx, id, stillProcessing, func(j *models.AnalysisJob) error {
		successful := j.ProcessedItems
		failed := len(j.Errors)
		rate := 0.0
		if j.TotalItems > 0 {
			rate = float64(successful) / float64(j.TotalItems) * 100
		}
		j.Result = &models.JobSummary{
			Successful:  successful,
			Failed:      failed,
			SuccessRate: rate,
		}
		return j.Transition(models.JobStatusCompleted, "all batches finished")
	})
	if err != nil {
		log.Error("Failed to persist completed job", map[string]interface{}{"error": err.Error()})
		return
	}

	p.metrics.ObserveJobDuration(string(final.Type), time.Since(started).Seconds())
	if !applied {
		return
	}
	log.Info("Job completed", map[string]interface{}{
		"successful": final.Result.Successful,
		"failed":     final.Result.Failed,
	})
}

// processBatch runs one batch's nodes with per-node isolation under the
// batch time budget, then folds the outcome into the job record through the
// store.
func (p *BatchProcessor) processBatch(job *models.AnalysisJob, batch []models.NodeMetrics, scorer NodeScorer) {
	ctx, cancel := context.WithTimeout(context.Background(), job.Options.BatchTimeout)
	defer cancel()

	type outcome struct {
		opp  *models.Opportunity
		proj *models.RevenueProjection
		err  *models.JobError
	}

	results := make(chan outcome, len(batch))
	for _, node := range batch {
		go func(node models.NodeMetrics) {
			var out outcome
			defer func() {
				if r := recover(); r != nil {
					out.opp, out.proj = nil, nil
					out.err = &models.JobError{
						NodeID:     node.NodeID,
						Message:    fmt.Sprintf("node processing panic: %v", r),
						Timestamp:  time.Now(),
						RetryCount: job.Options.RetryAttempt,
					}
				}
				results <- out
			}()
			out.opp, out.proj = p.processNode(job, node, scorer)
		}(node)
	}

	var opps []*models.Opportunity
	var projs []*models.RevenueProjection
	var errs []models.JobError

collect:
	for range batch {
		select {
		case out := <-results:
			if out.err != nil {
				errs = append(errs, *out.err)
				continue
			}
			if out.opp != nil {
				opps = append(opps, out.opp)
			}
			if out.proj != nil {
				projs = append(projs, out.proj)
			}
		case <-ctx.Done():
			break collect
		}
	}

	// A timed-out batch fails as a unit: every node is recorded as an
	// error and partial successes are discarded, so a retry job re-covers
	// the whole batch. Nodes that failed before the deadline keep their
	// real error.
	timedOut := ctx.Err() != nil
	if timedOut {
		failed := make(map[string]bool, len(errs))
		for _, e := range errs {
			failed[e.NodeID] = true
		}
		for _, node := range batch {
			if failed[node.NodeID] {
				continue
			}
			errs = append(errs, models.JobError{
				NodeID:     node.NodeID,
				Message:    fmt.Sprintf("batch timed out after %v", job.Options.BatchTimeout),
				Timestamp:  time.Now(),
				RetryCount: job.Options.RetryAttempt,
			})
		}
		opps = nil
		projs = nil
	}

	for range opps {
		p.metrics.RecordNodeOutcome("success")
	}
	for range errs {
		p.metrics.RecordNodeOutcome("failure")
	}

	persistCtx, persistCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer persistCancel()
	retryCfg := retry.Config{
		MaxRetries:     job.Options.MaxRetries,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}

	// Persist per-node results first. If persistence fails after retries,
	// the whole batch's successes become failures.
	err := retry.Do(persistCtx, retryCfg, func() error {
		if len(opps) > 0 {
			if err := p.store.UpsertOpportunities(opps); err != nil {
				return err
			}
		}
		for _, proj := range projs {
			if err := p.store.SaveProjection(job.ProjectID, proj); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		p.logger.Error("Batch persistence failed", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		for _, opp := range opps {
			errs = append(errs, models.JobError{
				NodeID:     opp.NodeID,
				Message:    fmt.Sprintf("failed to persist result: %v", err),
				Timestamp:  time.Now(),
				RetryCount: job.Options.RetryAttempt,
			})
		}
		opps = nil
	}

	if err := retry.Do(persistCtx, retryCfg, func() error {
		_, applyErr := p.store.ApplyBatchResult(job.ID, len(opps), errs)
		return applyErr
	}); err != nil {
		p.logger.Error("Failed to fold batch result", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}

	switch {
	case timedOut:
		p.metrics.RecordBatchOutcome("timeout")
	case len(errs) > 0:
		p.metrics.RecordBatchOutcome("partial")
	default:
		p.metrics.RecordBatchOutcome("success")
	}
}

// processNode runs the computations the job type asks for and assembles the
// persisted opportunity record. Pure computation; failures surface as
// panics caught by the batch isolation wrapper.
func (p *BatchProcessor) processNode(job *models.AnalysisJob, node models.NodeMetrics, scorer NodeScorer) (*models.Opportunity, *models.RevenueProjection) {
	var score *models.OpportunityScore
	var proj *models.RevenueProjection

	if job.Type == models.JobTypeScoring || job.Type == models.JobTypeFullAnalysis {
		s := scorer.Score(node)
		score = &s
	}
	if job.Type == models.JobTypeRevenue || job.Type == models.JobTypeFullAnalysis {
		pr := p.projector.Project(node, job.Options.TargetPosition, nil)
		proj = &pr
	}

	return buildOpportunity(job.ProjectID, node, score, proj), proj
}

// failJob marks a still-processing job failed with a fatal error entry.
func (p *BatchProcessor) failJob(ctx context.Context, job *models.AnalysisJob, message string) {
	_, applied, err := p.applyJobUpdate(ctx, job.ID,
		func(j *models.AnalysisJob) bool { return j.Status == models.JobStatusProcessing },
		func(j *models.AnalysisJob) error {
			j.Errors = append(j.Errors, models.JobError{
				Message:    message,
				Timestamp:  time.Now(),
				RetryCount: job.Options.RetryAttempt,
			})
			return j.Transition(models.JobStatusFailed, message)
		})
	if err != nil {
		p.logger.Error("Failed to persist failed job", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		return
	}
	if !applied {
		return
	}
	p.logger.Error("Job failed", map[string]interface{}{"job_id": job.ID, "reason": message})
}

// applyJobUpdate routes a conditional job mutation through the store's
// serialized update with the configured retry budget. mutate must be safe
// to re-run; check failures are not retried.
func (p *BatchProcessor) applyJobUpdate(ctx context.Context, id string, check func(*models.AnalysisJob) bool, mutate func(*models.AnalysisJob) error) (*models.AnalysisJob, bool, error) {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = p.config.PersistRetries
	var job *models.AnalysisJob
	var applied bool
	err := retry.Do(ctx, cfg, func() error {
		var err error
		job, applied, err = p.store.UpdateJobIf(id, check, mutate)
		return err
	})
	return job, applied, err
}

// filterNodes restricts nodes to the given ID set. An empty filter keeps
// everything.
func filterNodes(nodes []models.NodeMetrics, filter []string) []models.NodeMetrics {
	if len(filter) == 0 {
		return nodes
	}
	keep := make(map[string]bool, len(filter))
	for _, id := range filter {
		keep[id] = true
	}
	out := make([]models.NodeMetrics, 0, len(filter))
	for _, node := range nodes {
		if keep[node.NodeID] {
			out = append(out, node)
		}
	}
	return out
}

// partition splits nodes into fixed-size batches, preserving order.
func partition(nodes []models.NodeMetrics, size int) [][]models.NodeMetrics {
	if size <= 0 {
		size = 100
	}
	var batches [][]models.NodeMetrics
	for start := 0; start < len(nodes); start += size {
		end := start + size
		if end > len(nodes) {
			end = len(nodes)
		}
		batches = append(batches, nodes[start:end])
	}
	return batches
}

// maxRevenue finds the highest node revenue in the run, used as the
// scoring normalization ceiling.
func maxRevenue(nodes []models.NodeMetrics) float64 {
	max := 0.0
	for _, node := range nodes {
		if node.Revenue > max {
			max = node.Revenue
		}
	}
	return max
}
