package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rankwell/opportunity-engine/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the data store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL and a busy timeout keep the single-writer model usable while
	// batches poll and update concurrently. _txlock=immediate acquires the
	// write lock at transaction start to reduce conflicts.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to avoid SQLITE_BUSY under concurrent batch updates
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		project_id TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		total_items INTEGER NOT NULL DEFAULT 0,
		processed_items INTEGER NOT NULL DEFAULT 0,
		errors TEXT,
		result TEXT,
		options TEXT,
		source_job_id TEXT,
		cancel_requested BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		state_transitions TEXT
	);

	CREATE TABLE IF NOT EXISTS node_metrics (
		project_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		depth INTEGER NOT NULL DEFAULT 0,
		position REAL NOT NULL,
		impressions INTEGER NOT NULL DEFAULT 0,
		clicks INTEGER NOT NULL DEFAULT 0,
		sessions INTEGER NOT NULL DEFAULT 0,
		revenue REAL NOT NULL DEFAULT 0,
		transactions INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (project_id, node_id)
	);

	CREATE TABLE IF NOT EXISTS opportunities (
		project_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		score INTEGER NOT NULL,
		revenue_potential REAL NOT NULL,
		combined_value REAL NOT NULL,
		priority TEXT NOT NULL,
		factors TEXT,
		confidence REAL NOT NULL,
		computed_at DATETIME NOT NULL,
		PRIMARY KEY (project_id, node_id)
	);

	CREATE TABLE IF NOT EXISTS projections (
		project_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		data TEXT NOT NULL,
		calculated_at DATETIME NOT NULL,
		PRIMARY KEY (project_id, node_id)
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_project_status ON jobs(project_id, status);
	CREATE INDEX IF NOT EXISTS idx_node_metrics_depth ON node_metrics(project_id, depth);
	CREATE INDEX IF NOT EXISTS idx_opportunities_value ON opportunities(project_id, combined_value);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateJob adds a new job to the store
func (s *SQLiteStore) CreateJob(job *models.AnalysisJob) error {
	errs, result, options, transitions, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO jobs
		(id, type, project_id, status, progress, total_items, processed_items,
		 errors, result, options, source_job_id, cancel_requested, created_at,
		 started_at, completed_at, state_transitions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Type, job.ProjectID, job.Status, job.Progress, job.TotalItems,
		job.ProcessedItems, errs, result, options, job.SourceJobID,
		job.CancelRequested, job.CreatedAt, job.StartedAt, job.CompletedAt, transitions)

	return err
}

// GetJob retrieves a job by ID
func (s *SQLiteStore) GetJob(id string) (*models.AnalysisJob, error) {
	row := s.db.QueryRow(`
		SELECT id, type, project_id, status, progress, total_items, processed_items,
		       errors, result, options, source_job_id, cancel_requested, created_at,
		       started_at, completed_at, state_transitions
		FROM jobs WHERE id = ?
	`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

// GetJobs returns jobs filtered by project and/or status, newest first.
func (s *SQLiteStore) GetJobs(projectID string, status models.JobStatus) ([]*models.AnalysisJob, error) {
	query := `
		SELECT id, type, project_id, status, progress, total_items, processed_items,
		       errors, result, options, source_job_id, cancel_requested, created_at,
		       started_at, completed_at, state_transitions
		FROM jobs WHERE 1=1`
	args := []interface{}{}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
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
func (s *SQLiteStore) UpdateJob(job *models.AnalysisJob) error {
	errs, result, options, transitions, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE jobs SET type = ?, project_id = ?, status = ?, progress = ?,
		       total_items = ?, processed_items = ?, errors = ?, result = ?,
		       options = ?, source_job_id = ?, cancel_requested = ?,
		       started_at = ?, completed_at = ?, state_transitions = ?
		WHERE id = ?
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

// ApplyBatchResult folds one batch outcome into the job inside a single
// write transaction; the connection pool is limited to one writer, so
// concurrent batches serialize here.
func (s *SQLiteStore) ApplyBatchResult(id string, processedDelta int, errs []models.JobError) (*models.AnalysisJob, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT id, type, project_id, status, progress, total_items, processed_items,
		       errors, result, options, source_job_id, cancel_requested, created_at,
		       started_at, completed_at, state_transitions
		FROM jobs WHERE id = ?
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
		UPDATE jobs SET progress = ?, processed_items = ?, errors = ? WHERE id = ?
	`, job.Progress, job.ProcessedItems, string(errBlob), job.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJobIf applies mutate inside a single write transaction when check
// approves the stored record; the single-writer pool serializes it against
// concurrent batch folds.
func (s *SQLiteStore) UpdateJobIf(id string, check func(*models.AnalysisJob) bool, mutate func(*models.AnalysisJob) error) (*models.AnalysisJob, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT id, type, project_id, status, progress, total_items, processed_items,
		       errors, result, options, source_job_id, cancel_requested, created_at,
		       started_at, completed_at, state_transitions
		FROM jobs WHERE id = ?
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
		UPDATE jobs SET type = ?, project_id = ?, status = ?, progress = ?,
		       total_items = ?, processed_items = ?, errors = ?, result = ?,
		       options = ?, source_job_id = ?, cancel_requested = ?,
		       started_at = ?, completed_at = ?, state_transitions = ?
		WHERE id = ?
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
func (s *SQLiteStore) UpsertNodeMetrics(m *models.NodeMetrics) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO node_metrics
		(project_id, node_id, depth, position, impressions, clicks, sessions, revenue, transactions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ProjectID, m.NodeID, m.Depth, m.Position, m.Impressions, m.Clicks,
		m.Sessions, m.Revenue, m.Transactions)
	return err
}

// GetProjectNodes returns a project's nodes ordered by hierarchy depth
// ascending.
func (s *SQLiteStore) GetProjectNodes(projectID string) ([]models.NodeMetrics, error) {
	rows, err := s.db.Query(`
		SELECT project_id, node_id, depth, position, impressions, clicks, sessions, revenue, transactions
		FROM node_metrics WHERE project_id = ?
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
func (s *SQLiteStore) UpsertOpportunities(opps []*models.Opportunity) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO opportunities
		(project_id, node_id, score, revenue_potential, combined_value, priority, factors, confidence, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
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
func (s *SQLiteStore) GetOpportunities(projectID string, limit int) ([]*models.Opportunity, error) {
	query := `
		SELECT project_id, node_id, score, revenue_potential, combined_value, priority, factors, confidence, computed_at
		FROM opportunities WHERE project_id = ?
		ORDER BY combined_value DESC, node_id ASC`
	args := []interface{}{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
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
func (s *SQLiteStore) SaveProjection(projectID string, p *models.RevenueProjection) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO projections (project_id, node_id, data, calculated_at)
		VALUES (?, ?, ?, ?)
	`, projectID, p.NodeID, string(data), p.CalculatedAt)
	return err
}

// GetProjection retrieves the latest projection for a project/node pair
func (s *SQLiteStore) GetProjection(projectID, nodeID string) (*models.RevenueProjection, error) {
	var data string
	err := s.db.QueryRow(`
		SELECT data FROM projections WHERE project_id = ? AND node_id = ?
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanJob
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	var errsJSON, resultJSON, optionsJSON, transitionsJSON sql.NullString
	var sourceJobID sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&job.ID, &job.Type, &job.ProjectID, &job.Status, &job.Progress,
		&job.TotalItems, &job.ProcessedItems, &errsJSON, &resultJSON, &optionsJSON,
		&sourceJobID, &job.CancelRequested, &job.CreatedAt, &startedAt, &completedAt,
		&transitionsJSON)
	if err != nil {
		return nil, err
	}

	job.SourceJobID = sourceJobID.String
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	if err := unmarshalInto(errsJSON, &job.Errors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
	}
	if err := unmarshalInto(resultJSON, &job.Result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	if err := unmarshalInto(optionsJSON, &job.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	if err := unmarshalInto(transitionsJSON, &job.StateTransitions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state_transitions: %w", err)
	}

	return &job, nil
}

func marshalJobBlobs(job *models.AnalysisJob) (errs, result, options, transitions string, err error) {
	b, err := json.Marshal(job.Errors)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal errors: %w", err)
	}
	errs = string(b)

	b, err = json.Marshal(job.Result)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal result: %w", err)
	}
	result = string(b)

	b, err = json.Marshal(job.Options)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal options: %w", err)
	}
	options = string(b)

	b, err = json.Marshal(job.StateTransitions)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal state_transitions: %w", err)
	}
	transitions = string(b)
	return errs, result, options, transitions, nil
}

func unmarshalInto(blob sql.NullString, dest interface{}) error {
	if !blob.Valid || blob.String == "" || blob.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(blob.String), dest)
}
