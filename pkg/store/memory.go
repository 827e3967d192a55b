package store

import (
	"sort"
	"sync"

	"github.com/rankwell/opportunity-engine/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store, used by
// tests and single-shot CLI runs.
type MemoryStore struct {
	jobs          map[string]*models.AnalysisJob
	nodes         map[string]map[string]*models.NodeMetrics // projectID -> nodeID -> metrics
	opportunities map[string]map[string]*models.Opportunity // projectID -> nodeID -> record
	projections   map[string]map[string]*models.RevenueProjection
	jobsMu        sync.Mutex
	nodesMu       sync.RWMutex
	oppsMu        sync.RWMutex
	projMu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:          make(map[string]*models.AnalysisJob),
		nodes:         make(map[string]map[string]*models.NodeMetrics),
		opportunities: make(map[string]map[string]*models.Opportunity),
		projections:   make(map[string]map[string]*models.RevenueProjection),
	}
}

// Job operations

// CreateJob adds a new job to the store
func (s *MemoryStore) CreateJob(job *models.AnalysisJob) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	s.jobs[job.ID] = copyJob(job)
	return nil
}

// GetJob retrieves a job by ID. The returned job is a copy; callers may see
// it while the owning run is still mutating the stored record.
func (s *MemoryStore) GetJob(id string) (*models.AnalysisJob, error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return copyJob(job), nil
}

// GetJobs returns jobs filtered by project and/or status, newest first.
func (s *MemoryStore) GetJobs(projectID string, status models.JobStatus) ([]*models.AnalysisJob, error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	jobs := make([]*models.AnalysisJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if projectID != "" && job.ProjectID != projectID {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		jobs = append(jobs, copyJob(job))
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// UpdateJob replaces the stored job record
func (s *MemoryStore) UpdateJob(job *models.AnalysisJob) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

// ApplyBatchResult folds one batch outcome into the stored job under the
// store lock, so concurrent batches cannot lose counter updates.
func (s *MemoryStore) ApplyBatchResult(id string, processedDelta int, errs []models.JobError) (*models.AnalysisJob, error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}

	applyBatch(job, processedDelta, errs)
	return copyJob(job), nil
}

// UpdateJobIf applies mutate under the store lock when check approves the
// stored record, so the write cannot race a concurrent batch fold or an
// earlier state change.
func (s *MemoryStore) UpdateJobIf(id string, check func(*models.AnalysisJob) bool, mutate func(*models.AnalysisJob) error) (*models.AnalysisJob, bool, error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, false, ErrJobNotFound
	}
	if !check(job) {
		return copyJob(job), false, nil
	}

	work := copyJob(job)
	if err := mutate(work); err != nil {
		return nil, false, err
	}
	s.jobs[id] = work
	return copyJob(work), true, nil
}

// Node metrics operations

// UpsertNodeMetrics stores the aggregated metrics window for one node
func (s *MemoryStore) UpsertNodeMetrics(m *models.NodeMetrics) error {
	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()

	byNode, ok := s.nodes[m.ProjectID]
	if !ok {
		byNode = make(map[string]*models.NodeMetrics)
		s.nodes[m.ProjectID] = byNode
	}
	clone := *m
	clone.Derive()
	byNode[m.NodeID] = &clone
	return nil
}

// GetProjectNodes returns a project's nodes ordered by hierarchy depth
// ascending.
func (s *MemoryStore) GetProjectNodes(projectID string) ([]models.NodeMetrics, error) {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()

	byNode := s.nodes[projectID]
	nodes := make([]models.NodeMetrics, 0, len(byNode))
	for _, m := range byNode {
		nodes = append(nodes, *m)
	}

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Depth != nodes[j].Depth {
			return nodes[i].Depth < nodes[j].Depth
		}
		return nodes[i].NodeID < nodes[j].NodeID
	})
	return nodes, nil
}

// Opportunity operations

// UpsertOpportunities writes ranked records keyed by node ID, last write
// wins.
func (s *MemoryStore) UpsertOpportunities(opps []*models.Opportunity) error {
	s.oppsMu.Lock()
	defer s.oppsMu.Unlock()

	for _, opp := range opps {
		byNode, ok := s.opportunities[opp.ProjectID]
		if !ok {
			byNode = make(map[string]*models.Opportunity)
			s.opportunities[opp.ProjectID] = byNode
		}
		clone := *opp
		byNode[opp.NodeID] = &clone
	}
	return nil
}

// GetOpportunities returns a project's records ordered by combined value
// descending. limit <= 0 means no limit.
func (s *MemoryStore) GetOpportunities(projectID string, limit int) ([]*models.Opportunity, error) {
	s.oppsMu.RLock()
	defer s.oppsMu.RUnlock()

	byNode := s.opportunities[projectID]
	opps := make([]*models.Opportunity, 0, len(byNode))
	for _, opp := range byNode {
		clone := *opp
		opps = append(opps, &clone)
	}

	sort.Slice(opps, func(i, j int) bool {
		if opps[i].CombinedValue != opps[j].CombinedValue {
			return opps[i].CombinedValue > opps[j].CombinedValue
		}
		return opps[i].NodeID < opps[j].NodeID
	})

	if limit > 0 && len(opps) > limit {
		opps = opps[:limit]
	}
	return opps, nil
}

// Projection operations

// SaveProjection stores the latest projection for a project/node pair
func (s *MemoryStore) SaveProjection(projectID string, p *models.RevenueProjection) error {
	s.projMu.Lock()
	defer s.projMu.Unlock()

	byNode, ok := s.projections[projectID]
	if !ok {
		byNode = make(map[string]*models.RevenueProjection)
		s.projections[projectID] = byNode
	}
	clone := *p
	byNode[p.NodeID] = &clone
	return nil
}

// GetProjection retrieves the latest projection for a project/node pair
func (s *MemoryStore) GetProjection(projectID, nodeID string) (*models.RevenueProjection, error) {
	s.projMu.RLock()
	defer s.projMu.RUnlock()

	byNode := s.projections[projectID]
	p, ok := byNode[nodeID]
	if !ok {
		return nil, ErrProjectionNotFound
	}
	clone := *p
	return &clone, nil
}

// Lifecycle

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck always succeeds for the in-memory store
func (s *MemoryStore) HealthCheck() error {
	return nil
}

// applyBatch is the shared batch-fold logic: counters accumulate, progress
// never decreases, terminal status fields are untouched.
func applyBatch(job *models.AnalysisJob, processedDelta int, errs []models.JobError) {
	job.ProcessedItems += processedDelta
	if job.ProcessedItems > job.TotalItems {
		job.ProcessedItems = job.TotalItems
	}
	job.Errors = append(job.Errors, errs...)

	if job.TotalItems > 0 {
		progress := job.ProcessedItems * 100 / job.TotalItems
		if progress > job.Progress {
			job.Progress = progress
		}
	}
}

func copyJob(job *models.AnalysisJob) *models.AnalysisJob {
	clone := *job
	clone.Errors = append([]models.JobError(nil), job.Errors...)
	clone.StateTransitions = append([]models.StateTransition(nil), job.StateTransitions...)
	clone.Options.NodeFilter = append([]string(nil), job.Options.NodeFilter...)
	if job.Result != nil {
		result := *job.Result
		clone.Result = &result
	}
	return &clone
}
