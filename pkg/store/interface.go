package store

import (
	"errors"
	"time"

	"github.com/rankwell/opportunity-engine/pkg/models"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrProjectionNotFound  = errors.New("projection not found")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Store defines the interface for data persistence.
// Memory, SQLite and PostgreSQL all implement this interface.
type Store interface {
	// Job operations
	CreateJob(job *models.AnalysisJob) error
	GetJob(id string) (*models.AnalysisJob, error)
	GetJobs(projectID string, status models.JobStatus) ([]*models.AnalysisJob, error)
	UpdateJob(job *models.AnalysisJob) error

	// ApplyBatchResult atomically folds one batch outcome into a job:
	// processed items, error list and progress. The read-modify-write is
	// serialized by the store so concurrent batches never lose updates.
	// Terminal status fields are left untouched. Returns the updated job.
	ApplyBatchResult(id string, processedDelta int, errs []models.JobError) (*models.AnalysisJob, error)

	// UpdateJobIf atomically applies mutate to the stored job when check
	// approves the current record. Read, check and write are serialized
	// with ApplyBatchResult, so the write can never clobber a concurrent
	// batch fold or state change made after an earlier read. check must
	// not mutate the job. Returns the stored job after the call and
	// whether mutate was applied.
	UpdateJobIf(id string, check func(*models.AnalysisJob) bool, mutate func(*models.AnalysisJob) error) (*models.AnalysisJob, bool, error)

	// Node metrics (populated by the external sync process)
	UpsertNodeMetrics(m *models.NodeMetrics) error
	// GetProjectNodes returns a project's nodes ordered by hierarchy depth
	// ascending.
	GetProjectNodes(projectID string) ([]models.NodeMetrics, error)

	// Opportunity records, upserted keyed by node ID (last write wins)
	UpsertOpportunities(opps []*models.Opportunity) error
	GetOpportunities(projectID string, limit int) ([]*models.Opportunity, error)

	// Revenue projections, one per project/node pair
	SaveProjection(projectID string, p *models.RevenueProjection) error
	GetProjection(projectID, nodeID string) (*models.RevenueProjection, error)

	// Lifecycle
	Close() error
	HealthCheck() error
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // Connection string

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// SQLite specific
	Path string
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresStore(config)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "opportunity.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}
