package gateway

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
)

// maxDurationSamples bounds the cycle duration samples kept for the
// histogram.
const maxDurationSamples = 1000

var cycleDurationBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// Metrics aggregates cycle reports into Prometheus counters.
type Metrics struct {
	mu          sync.Mutex
	cycles      map[string]int64
	fetchErrors map[string]int64
	decisions   map[string]map[string]int64 // watch -> decision -> count
	dispatched  map[string]int64
	failures    map[string]map[string]int64 // watch -> stage -> count
	evicted     map[string]int64
	durations   []time.Duration
}

// NewMetrics creates an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{
		cycles:      map[string]int64{},
		fetchErrors: map[string]int64{},
		decisions:   map[string]map[string]int64{},
		dispatched:  map[string]int64{},
		failures:    map[string]map[string]int64{},
		evicted:     map[string]int64{},
	}
}

// Observe folds one cycle report into the counters.
func (m *Metrics) Observe(r pipeline.CycleReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cycles[r.Watch]++
	if r.FetchError != "" {
		m.fetchErrors[r.Watch]++
	}
	d := m.decisions[r.Watch]
	if d == nil {
		d = map[string]int64{}
		m.decisions[r.Watch] = d
	}
	d[pipeline.DecisionAccepted.String()] += int64(r.Accepted)
	d[pipeline.DecisionSkipped.String()] += int64(r.Skipped)
	d[pipeline.DecisionAlreadyProcessed.String()] += int64(r.AlreadyProcessed)
	m.dispatched[r.Watch] += int64(r.Dispatched)
	m.evicted[r.Watch] += int64(r.Evicted)

	if len(r.Failures) > 0 {
		f := m.failures[r.Watch]
		if f == nil {
			f = map[string]int64{}
			m.failures[r.Watch] = f
		}
		for _, fail := range r.Failures {
			f[fail.Stage]++
		}
	}

	if !r.FinishedAt.IsZero() && !r.StartedAt.IsZero() {
		m.durations = append(m.durations, r.FinishedAt.Sub(r.StartedAt))
		if len(m.durations) > maxDurationSamples {
			m.durations = m.durations[len(m.durations)-maxDurationSamples:]
		}
	}
}

// WritePrometheus writes all metrics in Prometheus text format. Gauges are
// read from the watches at scrape time.
func (m *Metrics) WritePrometheus(w io.Writer, watches []Watch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	writeHelp(w, "jtu_cycles_total", "Poll cycles completed")
	writeType(w, "jtu_cycles_total", "counter")
	for _, watch := range sortedKeys(m.cycles) {
		writeCounter(w, "jtu_cycles_total", m.cycles[watch], "watch", watch)
	}

	writeHelp(w, "jtu_fetch_errors_total", "Poll cycles whose fetch failed after retries")
	writeType(w, "jtu_fetch_errors_total", "counter")
	for _, watch := range sortedKeys(m.cycles) {
		writeCounter(w, "jtu_fetch_errors_total", m.fetchErrors[watch], "watch", watch)
	}

	writeHelp(w, "jtu_issues_total", "Issues processed by decision")
	writeType(w, "jtu_issues_total", "counter")
	for _, watch := range sortedKeys(m.decisions) {
		for _, decision := range sortedKeys(m.decisions[watch]) {
			writeCounter(w, "jtu_issues_total", m.decisions[watch][decision], "watch", watch, "decision", decision)
		}
	}

	writeHelp(w, "jtu_notifications_sent_total", "Notifications delivered")
	writeType(w, "jtu_notifications_sent_total", "counter")
	for _, watch := range sortedKeys(m.dispatched) {
		writeCounter(w, "jtu_notifications_sent_total", m.dispatched[watch], "watch", watch)
	}

	writeHelp(w, "jtu_failures_total", "Per-issue failures by stage")
	writeType(w, "jtu_failures_total", "counter")
	for _, watch := range sortedKeys(m.failures) {
		for _, stage := range sortedKeys(m.failures[watch]) {
			writeCounter(w, "jtu_failures_total", m.failures[watch][stage], "watch", watch, "stage", stage)
		}
	}

	writeHelp(w, "jtu_cache_evictions_total", "Processed cache entries evicted")
	writeType(w, "jtu_cache_evictions_total", "counter")
	for _, watch := range sortedKeys(m.evicted) {
		writeCounter(w, "jtu_cache_evictions_total", m.evicted[watch], "watch", watch)
	}

	writeHelp(w, "jtu_processed_cache_entries", "Entries in the processed cache")
	writeType(w, "jtu_processed_cache_entries", "gauge")
	for _, watch := range watches {
		writeGauge(w, "jtu_processed_cache_entries", float64(watch.Cache().Len()), "watch", watch.Name())
	}

	writeHelp(w, "jtu_watch_paused", "1 when the watch is paused")
	writeType(w, "jtu_watch_paused", "gauge")
	for _, watch := range watches {
		paused := 0.0
		if watch.Paused() {
			paused = 1
		}
		writeGauge(w, "jtu_watch_paused", paused, "watch", watch.Name())
	}

	writeHistogram(w, "jtu_cycle_duration_seconds", "Poll cycle duration", m.durations, cycleDurationBuckets)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeHelp(w io.Writer, name, help string) {
	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
}

func writeType(w io.Writer, name, metricType string) {
	_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
}

func writeCounter(w io.Writer, name string, value int64, labelPairs ...string) {
	if len(labelPairs) == 0 {
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
		return
	}
	_, _ = fmt.Fprintf(w, "%s{%s} %d\n", name, formatLabels(labelPairs), value)
}

func writeGauge(w io.Writer, name string, value float64, labelPairs ...string) {
	if len(labelPairs) == 0 {
		_, _ = fmt.Fprintf(w, "%s %g\n", name, value)
		return
	}
	_, _ = fmt.Fprintf(w, "%s{%s} %g\n", name, formatLabels(labelPairs), value)
}

func writeHistogram(w io.Writer, name, help string, samples []time.Duration, buckets []float64) {
	writeHelp(w, name, help)
	writeType(w, name, "histogram")

	seconds := make([]float64, len(samples))
	var sum float64
	for i, d := range samples {
		seconds[i] = d.Seconds()
		sum += seconds[i]
	}
	sort.Float64s(seconds)

	// Buckets are cumulative.
	i := 0
	for _, bucket := range buckets {
		for i < len(seconds) && seconds[i] <= bucket {
			i++
		}
		_, _ = fmt.Fprintf(w, "%s_bucket{le=\"%g\"} %d\n", name, bucket, i)
	}
	_, _ = fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", name, len(seconds))
	_, _ = fmt.Fprintf(w, "%s_sum %g\n", name, sum)
	_, _ = fmt.Fprintf(w, "%s_count %d\n", name, len(seconds))
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func formatLabels(pairs []string) string {
	var sb strings.Builder
	for i := 0; i < len(pairs); i += 2 {
		if i > 0 {
			sb.WriteByte(',')
		}
		value := ""
		if i+1 < len(pairs) {
			value = pairs[i+1]
		}
		fmt.Fprintf(&sb, "%s=\"%s\"", pairs[i], labelEscaper.Replace(value))
	}
	return sb.String()
}
