package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// submission admission outcomes, and transcode pipeline activity. It
// coordinates concurrent writers via a RWMutex while exposing atomic gauges
// for in-flight work.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	submissionEvents map[string]uint64
	transcodeEvents  map[string]uint64
	activeTranscodes atomic.Int64
	pendingBytes     atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		submissionEvents: make(map[string]uint64),
		transcodeEvents:  make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not need
// their own instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveSubmission records an admission outcome: "accepted",
// "rejected_capacity", or "rejected_invalid".
func (r *Recorder) ObserveSubmission(outcome string) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.submissionEvents[normalized]++
	r.mu.Unlock()
}

// TranscodeStarted increments the active transcode gauge.
func (r *Recorder) TranscodeStarted() {
	r.recordTranscodeEvent("start")
	r.activeTranscodes.Add(1)
}

// TranscodeCompleted records a successful conversion and decrements the
// active gauge.
func (r *Recorder) TranscodeCompleted() {
	r.recordTranscodeEvent("ready")
	r.decrementGauge(&r.activeTranscodes)
}

// TranscodeFailed records a failed conversion and decrements the active
// gauge, guarding against negative counts when updates race.
func (r *Recorder) TranscodeFailed() {
	r.recordTranscodeEvent("failed")
	r.decrementGauge(&r.activeTranscodes)
}

func (r *Recorder) recordTranscodeEvent(status string) {
	normalized := normalizeName(status)
	r.mu.Lock()
	r.transcodeEvents[normalized]++
	r.mu.Unlock()
}

// SetPendingBytes publishes the current pending-budget consumption.
func (r *Recorder) SetPendingBytes(bytes int64) {
	if bytes < 0 {
		bytes = 0
	}
	r.pendingBytes.Store(bytes)
}

// ActiveTranscodes exposes the current number of conversions in flight.
func (r *Recorder) ActiveTranscodes() int64 {
	return r.activeTranscodes.Load()
}

// SubmissionCounts returns a copy of the admission outcome counters, for
// tests and reporting.
func (r *Recorder) SubmissionCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.submissionEvents))
	for k, v := range r.submissionEvents {
		counts[k] = v
	}
	return counts
}

// TranscodeCounts returns a copy of the transcode event counters and the
// current active gauge value.
func (r *Recorder) TranscodeCounts() (events map[string]uint64, active int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[string]uint64, len(r.transcodeEvents))
	for k, v := range r.transcodeEvents {
		events[k] = v
	}
	return events, r.activeTranscodes.Load()
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.submissionEvents = make(map[string]uint64)
	r.transcodeEvents = make(map[string]uint64)
	r.activeTranscodes.Store(0)
	r.pendingBytes.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format, sorting label sets for
// stable output across scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	submissionEvents := sortedKeys(r.submissionEvents)
	transcodeEvents := sortedKeys(r.transcodeEvents)

	fmt.Fprintln(w, "# HELP mediaplayer_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE mediaplayer_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "mediaplayer_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP mediaplayer_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE mediaplayer_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "mediaplayer_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP mediaplayer_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE mediaplayer_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "mediaplayer_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP mediaplayer_submissions_total Submission admission outcomes")
	fmt.Fprintln(w, "# TYPE mediaplayer_submissions_total counter")
	for _, event := range submissionEvents {
		fmt.Fprintf(w, "mediaplayer_submissions_total{outcome=\"%s\"} %d\n", event, r.submissionEvents[event])
	}

	fmt.Fprintln(w, "# HELP mediaplayer_transcodes_total Transcode pipeline events by status")
	fmt.Fprintln(w, "# TYPE mediaplayer_transcodes_total counter")
	for _, event := range transcodeEvents {
		fmt.Fprintf(w, "mediaplayer_transcodes_total{status=\"%s\"} %d\n", event, r.transcodeEvents[event])
	}

	fmt.Fprintln(w, "# HELP mediaplayer_active_transcodes Current number of conversions in flight")
	fmt.Fprintln(w, "# TYPE mediaplayer_active_transcodes gauge")
	fmt.Fprintf(w, "mediaplayer_active_transcodes %d\n", r.activeTranscodes.Load())

	fmt.Fprintln(w, "# HELP mediaplayer_pending_media_bytes Combined declared size of PENDING submissions")
	fmt.Fprintln(w, "# TYPE mediaplayer_pending_media_bytes gauge")
	fmt.Fprintf(w, "mediaplayer_pending_media_bytes %d\n", r.pendingBytes.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveSubmission records an admission outcome on the default recorder.
func ObserveSubmission(outcome string) {
	defaultRecorder.ObserveSubmission(outcome)
}

// TranscodeStarted increments the default recorder's active gauge.
func TranscodeStarted() {
	defaultRecorder.TranscodeStarted()
}

// TranscodeCompleted records a successful conversion on the default recorder.
func TranscodeCompleted() {
	defaultRecorder.TranscodeCompleted()
}

// TranscodeFailed records a failed conversion on the default recorder.
func TranscodeFailed() {
	defaultRecorder.TranscodeFailed()
}

// SetPendingBytes publishes the pending-budget consumption on the default recorder.
func SetPendingBytes(bytes int64) {
	defaultRecorder.SetPendingBytes(bytes)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
