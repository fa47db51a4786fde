package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	trackingStartedTotal   atomic.Uint64
	trackingCompletedTotal atomic.Uint64
	trackingFailedTotal    = newLabeledCounter()

	workerTimeoutsTotal        atomic.Uint64
	artifactsSweptTotal        atomic.Uint64
	artifactDeleteFailedTotal  atomic.Uint64
	reportsArchivedTotal       atomic.Uint64
	chatbotRequestsTotal       atomic.Uint64
	chatbotFailedRequestsTotal atomic.Uint64

	trackingDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000})
	workerDuration   = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000})
)

// IncTrackingStarted increments the started counter.
func IncTrackingStarted() {
	trackingStartedTotal.Add(1)
}

// IncTrackingCompleted increments the completed counter.
func IncTrackingCompleted() {
	trackingCompletedTotal.Add(1)
}

// IncTrackingFailed increments the failed counter for the given failure kind.
func IncTrackingFailed(kind string) {
	trackingFailedTotal.Inc(kind)
}

// IncWorkerTimeout increments the worker timeout counter.
func IncWorkerTimeout() {
	workerTimeoutsTotal.Add(1)
}

// AddArtifactsSwept adds n to the orphaned artifacts counter.
func AddArtifactsSwept(n int) {
	if n > 0 {
		artifactsSweptTotal.Add(uint64(n))
	}
}

// IncArtifactDeleteFailed increments the artifact delete failure counter.
func IncArtifactDeleteFailed() {
	artifactDeleteFailedTotal.Add(1)
}

// IncReportArchived increments the archived reports counter.
func IncReportArchived() {
	reportsArchivedTotal.Add(1)
}

// IncChatbotRequest counts a chatbot proxy call; failed marks an upstream failure.
func IncChatbotRequest(failed bool) {
	chatbotRequestsTotal.Add(1)
	if failed {
		chatbotFailedRequestsTotal.Add(1)
	}
}

// ObserveTrackingDurationMs records an end-to-end tracking run duration in milliseconds.
func ObserveTrackingDurationMs(value float64) {
	trackingDuration.Observe(clamp(value))
}

// ObserveWorkerDurationMs records a worker process lifetime in milliseconds.
func ObserveWorkerDurationMs(value float64) {
	workerDuration.Observe(clamp(value))
}

func clamp(value float64) float64 {
	if value < 0 {
		return 0
	}
	return value
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "tracking_started_total", "Total tracking runs started", trackingStartedTotal.Load())
	writeCounter(&buf, "tracking_completed_total", "Total tracking runs that delivered a report", trackingCompletedTotal.Load())
	writeLabeledCounter(&buf, "tracking_failed_total", "Total tracking runs failed by kind", "kind", trackingFailedTotal.Snapshot())
	writeCounter(&buf, "worker_timeouts_total", "Total worker processes killed on timeout", workerTimeoutsTotal.Load())
	writeCounter(&buf, "artifacts_swept_total", "Total orphaned reports removed by the janitor", artifactsSweptTotal.Load())
	writeCounter(&buf, "artifact_delete_failed_total", "Total report deletions that failed", artifactDeleteFailedTotal.Load())
	writeCounter(&buf, "reports_archived_total", "Total reports copied to the archive", reportsArchivedTotal.Load())
	writeCounter(&buf, "chatbot_requests_total", "Total chatbot proxy requests", chatbotRequestsTotal.Load())
	writeCounter(&buf, "chatbot_failed_requests_total", "Total chatbot proxy requests that failed upstream", chatbotFailedRequestsTotal.Load())
	writeHistogram(&buf, "tracking_duration_ms", "Tracking run duration in milliseconds", trackingDuration.Snapshot())
	writeHistogram(&buf, "worker_duration_ms", "Worker process duration in milliseconds", workerDuration.Snapshot())
	return buf.String()
}

type labeledCounter struct {
	mu     sync.Mutex
	values map[string]uint64
}

func newLabeledCounter() *labeledCounter {
	return &labeledCounter{values: map[string]uint64{}}
}

func (c *labeledCounter) Inc(label string) {
	c.mu.Lock()
	c.values[label]++
	c.mu.Unlock()
}

func (c *labeledCounter) Snapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeLabeledCounter(buf *bytes.Buffer, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// SinceMillis returns the elapsed time since start in milliseconds.
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
