package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rankwell/opportunity-engine/pkg/models"
	"github.com/rankwell/opportunity-engine/pkg/store"
)

// Exporter exposes Prometheus metrics for the analysis engine. Job-state
// gauges are computed from the store at scrape time; counters and
// histograms accumulate in-process.
type Exporter struct {
	store     store.Store
	startTime time.Time

	mu            sync.RWMutex
	batchOutcomes map[string]int64 // result -> count

	nodesProcessed *promclient.CounterVec
	jobDuration    *promclient.HistogramVec
	jobsCreated    *promclient.CounterVec
}

// NewExporter creates a new Prometheus exporter and registers its
// collectors on the default registry.
func NewExporter(s store.Store) *Exporter {
	e := &Exporter{
		store:         s,
		startTime:     time.Now(),
		batchOutcomes: make(map[string]int64),
		nodesProcessed: promclient.NewCounterVec(
			promclient.CounterOpts{
				Name: "oppeng_nodes_processed_total",
				Help: "Total nodes processed by analysis jobs, by result",
			},
			[]string{"result"}, // "success", "failure"
		),
		jobDuration: promclient.NewHistogramVec(
			promclient.HistogramOpts{
				Name:    "oppeng_job_duration_seconds",
				Help:    "Analysis job duration in seconds",
				Buckets: promclient.ExponentialBuckets(0.1, 4, 8),
			},
			[]string{"type"},
		),
		jobsCreated: promclient.NewCounterVec(
			promclient.CounterOpts{
				Name: "oppeng_jobs_created_total",
				Help: "Total analysis jobs created, by type",
			},
			[]string{"type"},
		),
	}

	promclient.MustRegister(e.nodesProcessed)
	promclient.MustRegister(e.jobDuration)
	promclient.MustRegister(e.jobsCreated)

	return e
}

// RecordJobCreated counts a new job
func (e *Exporter) RecordJobCreated(jobType string) {
	e.jobsCreated.WithLabelValues(jobType).Inc()
}

// RecordNodeOutcome counts one processed node
func (e *Exporter) RecordNodeOutcome(result string) {
	e.nodesProcessed.WithLabelValues(result).Inc()
}

// RecordBatchOutcome counts one finished batch
func (e *Exporter) RecordBatchOutcome(result string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchOutcomes[result]++
}

// ObserveJobDuration records a terminal job's wall-clock duration
func (e *Exporter) ObserveJobDuration(jobType string, seconds float64) {
	e.jobDuration.WithLabelValues(jobType).Observe(seconds)
}

// ServeHTTP serves Prometheus-compatible metrics at /metrics
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	jobs, err := e.store.GetJobs("", "")
	if err != nil {
		http.Error(w, fmt.Sprintf("Error collecting job metrics: %v", err), http.StatusInternalServerError)
		return
	}

	// Always export all states (even if count is 0)
	jobsByStatus := map[models.JobStatus]int{
		models.JobStatusPending:    0,
		models.JobStatusProcessing: 0,
		models.JobStatusCompleted:  0,
		models.JobStatusFailed:     0,
	}
	for _, job := range jobs {
		jobsByStatus[job.Status]++
	}

	fmt.Fprintf(w, "# HELP oppeng_jobs_by_status Analysis jobs by status\n")
	fmt.Fprintf(w, "# TYPE oppeng_jobs_by_status gauge\n")
	for _, status := range []models.JobStatus{
		models.JobStatusPending, models.JobStatusProcessing,
		models.JobStatusCompleted, models.JobStatusFailed,
	} {
		fmt.Fprintf(w, "oppeng_jobs_by_status{status=\"%s\"} %d\n", status, jobsByStatus[status])
	}

	active := jobsByStatus[models.JobStatusPending] + jobsByStatus[models.JobStatusProcessing]
	fmt.Fprintf(w, "\n# HELP oppeng_active_jobs Number of non-terminal jobs\n")
	fmt.Fprintf(w, "# TYPE oppeng_active_jobs gauge\n")
	fmt.Fprintf(w, "oppeng_active_jobs %d\n", active)

	e.mu.RLock()
	fmt.Fprintf(w, "\n# HELP oppeng_batches_total Finished batches by result\n")
	fmt.Fprintf(w, "# TYPE oppeng_batches_total counter\n")
	for result, count := range e.batchOutcomes {
		fmt.Fprintf(w, "oppeng_batches_total{result=\"%s\"} %d\n", result, count)
	}
	e.mu.RUnlock()

	fmt.Fprintf(w, "\n# HELP oppeng_uptime_seconds Process uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE oppeng_uptime_seconds gauge\n")
	fmt.Fprintf(w, "oppeng_uptime_seconds %.0f\n", time.Since(e.startTime).Seconds())

	// Append the registry-backed collectors (counters, histograms)
	fmt.Fprintf(w, "\n")

	metricFamilies, err := promclient.DefaultGatherer.Gather()
	if err != nil {
		fmt.Fprintf(w, "# Error gathering Prometheus metrics: %v\n", err)
		return
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			fmt.Fprintf(w, "# Error encoding metric %s: %v\n", mf.GetName(), err)
		}
	}

	w.Write(buf.Bytes())
}
