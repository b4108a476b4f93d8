// Package metrics records per-command counters and writes them in the
// node_exporter textfile format.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/repositories"
)

const namespace = "mixdb"

// RunMetrics holds the metrics of one CLI invocation.
type RunMetrics struct {
	registry *prometheus.Registry

	importRowsTotal       *prometheus.CounterVec
	importRecordsTotal    *prometheus.CounterVec
	importWarningsTotal   *prometheus.CounterVec
	importDurationSeconds *prometheus.GaugeVec
	importFailuresTotal   *prometheus.CounterVec

	canonMaterialsGauge    *prometheus.GaugeVec
	canonMergesTotal       *prometheus.CounterVec
	canonRewrittenRows     *prometheus.CounterVec
	canonAttemptsGauge     *prometheus.GaugeVec
	canonFailuresTotal     prometheus.Counter
	canonDurationSeconds   *prometheus.GaugeVec
	purgeDeletedTotal      *prometheus.CounterVec
	lastSuccessTimeSeconds *prometheus.GaugeVec

	collectors []prometheus.Collector
}

// NewRunMetrics creates the metrics and registers them with registry.
func NewRunMetrics(registry *prometheus.Registry) (*RunMetrics, error) {
	m := &RunMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *RunMetrics) initMetrics() {
	m.importRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Data rows read by dataset imports",
		},
		[]string{"dataset", "outcome"}, // outcome: imported, skipped
	)
	m.importRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_records_total",
			Help:      "Records written by dataset imports",
		},
		[]string{"dataset", "kind"},
	)
	m.importWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_warnings_total",
			Help:      "Validation warnings raised by dataset imports",
		},
		[]string{"dataset"},
	)
	m.importDurationSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Duration of the last import of a dataset",
		},
		[]string{"dataset"},
	)
	m.importFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_failures_total",
			Help:      "Dataset imports that failed and were rolled back",
		},
		[]string{"dataset"},
	)

	m.canonMaterialsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "canonicalize_materials",
			Help:      "Material rows before and after the last canonicalization",
		},
		[]string{"stage", "dry_run"}, // stage: before, after
	)
	m.canonMergesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "canonicalize_merges_total",
			Help:      "Materials merged into a canonical survivor",
		},
		[]string{"dry_run"},
	)
	m.canonRewrittenRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "canonicalize_rewritten_rows_total",
			Help:      "Referencing rows repointed or dropped by canonicalization",
		},
		[]string{"table", "action", "dry_run"}, // action: updated, dropped
	)
	m.canonAttemptsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "canonicalize_attempts",
			Help:      "Transaction attempts used by the last canonicalization",
		},
		[]string{"dry_run"},
	)
	m.canonFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "canonicalize_failures_total",
			Help:      "Canonicalization runs that failed and were rolled back",
		},
	)
	m.canonDurationSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "canonicalize_duration_seconds",
			Help:      "Duration of the last canonicalization",
		},
		[]string{"dry_run"},
	)
	m.purgeDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purge_deleted_rows_total",
			Help:      "Rows deleted by dataset purges",
		},
		[]string{"dataset", "table"},
	)
	m.lastSuccessTimeSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run of a command",
		},
		[]string{"command"},
	)

	m.collectors = []prometheus.Collector{
		m.importRowsTotal,
		m.importRecordsTotal,
		m.importWarningsTotal,
		m.importDurationSeconds,
		m.importFailuresTotal,
		m.canonMaterialsGauge,
		m.canonMergesTotal,
		m.canonRewrittenRows,
		m.canonAttemptsGauge,
		m.canonFailuresTotal,
		m.canonDurationSeconds,
		m.purgeDeletedTotal,
		m.lastSuccessTimeSeconds,
	}
}

// Describe implements prometheus.Collector.
func (m *RunMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *RunMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// RecordImport records a committed import.
func (m *RunMetrics) RecordImport(r *models.ImportReport) {
	ds := r.Dataset
	m.importRowsTotal.WithLabelValues(ds, "imported").Add(float64(r.RowsProcessed - r.RowsSkipped))
	m.importRowsTotal.WithLabelValues(ds, "skipped").Add(float64(r.RowsSkipped))

	for kind, n := range map[string]int{
		"mix":                r.MixesCreated,
		"component":          r.ComponentsCreated,
		"material_created":   r.MaterialsCreated,
		"material_reused":    r.MaterialsReused,
		"material_property":  r.PropertiesWritten,
		"material_detail":    r.DetailsWritten,
		"performance_result": r.PerformanceResultsCreated,
	} {
		m.importRecordsTotal.WithLabelValues(ds, kind).Add(float64(n))
	}
	m.importWarningsTotal.WithLabelValues(ds).Add(float64(len(r.Warnings)))
	m.importDurationSeconds.WithLabelValues(ds).Set(r.Duration.Seconds())
	m.lastSuccessTimeSeconds.WithLabelValues("import").SetToCurrentTime()
}

// RecordImportFailure records an import that returned an error.
func (m *RunMetrics) RecordImportFailure(dataset string) {
	m.importFailuresTotal.WithLabelValues(dataset).Inc()
}

// RecordCanonicalization records a completed canonicalization run.
func (m *RunMetrics) RecordCanonicalization(r *models.CanonicalizationReport) {
	dry := strconv.FormatBool(r.DryRun)
	m.canonMaterialsGauge.WithLabelValues("before", dry).Set(float64(r.MaterialsBefore))
	m.canonMaterialsGauge.WithLabelValues("after", dry).Set(float64(r.MaterialsAfter))
	m.canonMergesTotal.WithLabelValues(dry).Add(float64(r.MaterialsMerged))
	for _, rw := range r.Rewrites {
		m.canonRewrittenRows.WithLabelValues(rw.Table, "updated", dry).Add(float64(rw.RowsUpdated))
		m.canonRewrittenRows.WithLabelValues(rw.Table, "dropped", dry).Add(float64(rw.RowsDropped))
	}
	m.canonAttemptsGauge.WithLabelValues(dry).Set(float64(r.Attempts))
	m.canonDurationSeconds.WithLabelValues(dry).Set(r.Duration.Seconds())
	if !r.DryRun {
		m.lastSuccessTimeSeconds.WithLabelValues("canonicalize").SetToCurrentTime()
	}
}

// RecordCanonicalizationFailure records a run that returned an error.
func (m *RunMetrics) RecordCanonicalizationFailure() {
	m.canonFailuresTotal.Inc()
}

// RecordPurge records a dataset purge.
func (m *RunMetrics) RecordPurge(dataset string, c *repositories.PurgeCounts) {
	m.purgeDeletedTotal.WithLabelValues(dataset, "concrete_mix").Add(float64(c.Mixes))
	m.purgeDeletedTotal.WithLabelValues(dataset, "mix_component").Add(float64(c.Components))
	m.purgeDeletedTotal.WithLabelValues(dataset, "performance_result").Add(float64(c.PerformanceResults))
	m.lastSuccessTimeSeconds.WithLabelValues("purge").SetToCurrentTime()
}

// WriteTextfile writes every registered metric to path atomically.
func (m *RunMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
