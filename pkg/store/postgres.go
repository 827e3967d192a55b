package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rankwell/opportunity-engine/pkg/models"
)

// PostgresStore is a PostgreSQL-based implementation of the data store,
// intended for production deployments with multiple pollers.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(config Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		project_id TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		total_items INTEGER NOT NULL DEFAULT 0,
		processed_items INTEGER NOT NULL DEFAULT 0,
		errors JSONB,
		result JSONB,
		options JSONB,
		source_job_id TEXT,
		cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		state_transitions JSONB
	);

	CREATE TABLE IF NOT EXISTS node_metrics (
		project_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		depth INTEGER NOT NULL DEFAULT 0,
		position DOUBLE PRECISION NOT NULL,
		impressions INTEGER NOT NULL DEFAULT 0,
		clicks INTEGER NOT NULL DEFAULT 0,
		sessions INTEGER NOT NULL DEFAULT 0,
		revenue DOUBLE PRECISION NOT NULL DEFAULT 0,
		transactions INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (project_id, node_id)
	);

	CREATE TABLE IF NOT EXISTS opportunities (
		project_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		score INTEGER NOT NULL,
		revenue_potential DOUBLE PRECISION NOT NULL,
		combined_value DOUBLE PRECISION NOT NULL,
		priority TEXT NOT NULL,
		factors JSONB,
		confidence DOUBLE PRECISION NOT NULL,
		computed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (project_id, node_id)
	);

	CREATE TABLE IF NOT EXISTS projections (
		project_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		data JSONB NOT NULL,
		calculated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (project_id, node_id)
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_project_status ON jobs(project_id, status);
	CREATE INDEX IF NOT EXISTS idx_node_metrics_depth ON node_metrics(project_id, depth);
	CREATE INDEX IF NOT EXISTS idx_opportunities_value ON opportunities(project_id, combined_value DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateJob adds a new job to the store
func (s *PostgresStore) CreateJob(job *models.AnalysisJob) error {
	errs, result, options, transitions, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO jobs
		(id, type, project_id, status, progress, total_items, processed_items,
		 errors, result, options, source_job_id, cancel_requested, created_at,
		 started_at, completed_at, state_transitions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, job.ID, job.Type, job.ProjectID, job.Status, job.Progress, job.TotalItems,
		job.ProcessedItems, errs, result, options, job.SourceJobID,
		job.CancelRequested, job.CreatedAt, job.StartedAt, job.CompletedAt, transitions)

	return err
}

// GetJob retrieves a job by ID
func (s *PostgresStore) GetJob(id string) (*models.AnalysisJob, error) {
	row := s.db.QueryRow(`
		SELECT id, type, project_id, status, progress, total_items, processed_items,
		       errors, result, options, source_job_id, cancel_requested, created_at,
		       started_at, completed_at, state_transitions
		FROM jobs WHERE id = $1
	`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

// GetJobs returns jobs filtered by project and/or status, newest first.
func (s *PostgresStore) GetJobs(projectID string, status models.JobStatus) ([]*models.AnalysisJob, error) {
	query := `
		SELECT id, type, project_id, status, progress, total_items, processed_items,
		       errors, result, options, source_job_id, cancel_requested, created_at,
		       started_at, completed_at, state_transitions
		FROM jobs WHERE 1=1`
	args := []interface{}{}
	if projectID != "" {
		args = append(args, projectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob replaces the stored job record
func (s *PostgresStore) UpdateJob(job *models.AnalysisJob) error {
	errs, result, options, transitions, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE jobs SET type = $1, project_id = $2, status = $3, progress = $4,
		       total_items = $5, processed_items = $6, errors = $7, result = $8,
		       options = $9, source_job_id = $10, cancel_requested = $11,
		       started_at = $12, completed_at = $13, state_transitions = $14
		WHERE id = $15
	`, job.Type, job.ProjectID, job.Status, job.Progress, job.TotalItems,
		job.ProcessedItems, errs, result, options, job.SourceJobID,
		job.CancelRequested, job.StartedAt, job.CompletedAt, transitions, job.ID)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ApplyBatchResult folds one batch outcome into the job under a row lock so
// concurrent batches serialize on the job record.
func (s *PostgresStore) ApplyBatchResult(id string, processedDelta int, errs []models.JobError) (*models.AnalysisJob, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT id, type, project_id, status, progress, total_items, processed_items,
		       errors, result, options, source_job_id, cancel_requested, created_at,
		       started_at, completed_at, state_transitions
		FROM jobs WHERE id = $1
		FOR UPDATE
	`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	applyBatch(job, processedDelta, errs)

	errBlob, err := json.Marshal(job.Errors)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal errors: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE jobs SET progress = $1, processed_items = $2, errors = $3 WHERE id = $4
	`, job.Progress, job.ProcessedItems, string(errBlob), job.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJobIf applies mutate under a row lock when check approves the
// stored record, serializing the write against concurrent batch folds.
func (s *PostgresStore) UpdateJobIf(id string, check func(*models.AnalysisJob) bool, mutate func(*models.AnalysisJob) error) (*models.AnalysisJob, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT id, type, project_id, status, progress, total_items, processed_items,
		       errors, result, options, source_job_id, cancel_requested, created_at,
		       started_at, completed_at, state_transitions
		FROM jobs WHERE id = $1
		FOR UPDATE
	`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, false, ErrJobNotFound
	}
	if err != nil {
		return nil, false, err
	}

	if !check(job) {
		return job, false, nil
	}
	if err := mutate(job); err != nil {
		return nil, false, err
	}

	errs, result, options, transitions, err := marshalJobBlobs(job)
	if err != nil {
		return nil, false, err
	}

	_, err = tx.Exec(`
		UPDATE jobs SET type = $1, project_id = $2, status = $3, progress = $4,
		       total_items = $5, processed_items = $6, errors = $7, result = $8,
		       options = $9, source_job_id = $10, cancel_requested = $11,
		       started_at = $12, completed_at = $13, state_transitions = $14
		WHERE id = $15
	`, job.Type, job.ProjectID, job.Status, job.Progress, job.TotalItems,
		job.ProcessedItems, errs, result, options, job.SourceJobID,
		job.CancelRequested, job.StartedAt, job.CompletedAt, transitions, job.ID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// UpsertNodeMetrics stores the aggregated metrics window for one node
func (s *PostgresStore) UpsertNodeMetrics(m *models.NodeMetrics) error {
	_, err := s.db.Exec(`
		INSERT INTO node_metrics
		(project_id, node_id, depth, position, impressions, clicks, sessions, revenue, transactions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (project_id, node_id) DO UPDATE SET
			depth = EXCLUDED.depth,
			position = EXCLUDED.position,
			impressions = EXCLUDED.impressions,
			clicks = EXCLUDED.clicks,
			sessions = EXCLUDED.sessions,
			revenue = EXCLUDED.revenue,
			transactions = EXCLUDED.transactions
	`, m.ProjectID, m.NodeID, m.Depth, m.Position, m.Impressions, m.Clicks,
		m.Sessions, m.Revenue, m.Transactions)
	return err
}

// GetProjectNodes returns a project's nodes ordered by hierarchy depth
// ascending.
func (s *PostgresStore) GetProjectNodes(projectID string) ([]models.NodeMetrics, error) {
	rows, err := s.db.Query(`
		SELECT project_id, node_id, depth, position, impressions, clicks, sessions, revenue, transactions
		FROM node_metrics WHERE project_id = $1
		ORDER BY depth ASC, node_id ASC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []models.NodeMetrics
	for rows.Next() {
		var m models.NodeMetrics
		if err := rows.Scan(&m.ProjectID, &m.NodeID, &m.Depth, &m.Position,
			&m.Impressions, &m.Clicks, &m.Sessions, &m.Revenue, &m.Transactions); err != nil {
			return nil, err
		}
		m.Derive()
		nodes = append(nodes, m)
	}
	return nodes, rows.Err()
}

// UpsertOpportunities writes ranked records keyed by node ID, last write
// wins.
func (s *PostgresStore) UpsertOpportunities(opps []*models.Opportunity) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO opportunities
		(project_id, node_id, score, revenue_potential, combined_value, priority, factors, confidence, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (project_id, node_id) DO UPDATE SET
			score = EXCLUDED.score,
			revenue_potential = EXCLUDED.revenue_potential,
			combined_value = EXCLUDED.combined_value,
			priority = EXCLUDED.priority,
			factors = EXCLUDED.factors,
			confidence = EXCLUDED.confidence,
			computed_at = EXCLUDED.computed_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, opp := range opps {
		factors, err := json.Marshal(opp.Factors)
		if err != nil {
			return fmt.Errorf("failed to marshal factors: %w", err)
		}
		if _, err := stmt.Exec(opp.ProjectID, opp.NodeID, opp.Score, opp.RevenuePotential,
			opp.CombinedValue, opp.Priority, string(factors), opp.Confidence, opp.ComputedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetOpportunities returns a project's records ordered by combined value
// descending. limit <= 0 means no limit.
func (s *PostgresStore) GetOpportunities(projectID string, limit int) ([]*models.Opportunity, error) {
	query := `
		SELECT project_id, node_id, score, revenue_potential, combined_value, priority, factors, confidence, computed_at
		FROM opportunities WHERE project_id = $1
		ORDER BY combined_value DESC, node_id ASC`
	args := []interface{}{projectID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opps []*models.Opportunity
	for rows.Next() {
		var opp models.Opportunity
		var factorsJSON string
		if err := rows.Scan(&opp.ProjectID, &opp.NodeID, &opp.Score, &opp.RevenuePotential,
			&opp.CombinedValue, &opp.Priority, &factorsJSON, &opp.Confidence, &opp.ComputedAt); err != nil {
			return nil, err
		}
		if factorsJSON != "" && factorsJSON != "null" {
			if err := json.Unmarshal([]byte(factorsJSON), &opp.Factors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal factors: %w", err)
			}
		}
		opps = append(opps, &opp)
	}
	return opps, rows.Err()
}

// SaveProjection stores the latest projection for a project/node pair
func (s *PostgresStore) SaveProjection(projectID string, p *models.RevenueProjection) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO projections (project_id, node_id, data, calculated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, node_id) DO UPDATE SET
			data = EXCLUDED.data,
			calculated_at = EXCLUDED.calculated_at
	`, projectID, p.NodeID, string(data), p.CalculatedAt)
	return err
}

// GetProjection retrieves the latest projection for a project/node pair
func (s *PostgresStore) GetProjection(projectID, nodeID string) (*models.RevenueProjection, error) {
	var data string
	err := s.db.QueryRow(`
		SELECT data FROM projections WHERE project_id = $1 AND node_id = $2
	`, projectID, nodeID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrProjectionNotFound
	}
	if err != nil {
		return nil, err
	}

	var p models.RevenueProjection
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal projection: %w", err)
	}
	return &p, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database connection
func (s *PostgresStore) HealthCheck() error {
	return s.db.Ping()
}
