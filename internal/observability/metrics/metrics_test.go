package metrics

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestObserveRequestAndNormalizePath(t *testing.T) {
	recorder := New()

	type testCase struct {
		name     string
		method   string
		path     string
		status   int
		duration time.Duration
	}

	cases := []testCase{
		{
			name:     "root path",
			method:   "get",
			path:     "/",
			status:   200,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "empty path",
			method:   "GET",
			path:     "",
			status:   200,
			duration: 25 * time.Millisecond,
		},
		{
			name:     "id segment",
			method:   "get",
			path:     "/api/media/123",
			status:   200,
			duration: 100 * time.Millisecond,
		},
		{
			name:     "trailing slash and long id",
			method:   "GET",
			path:     "/api/media/abc123def4567890xyz/",
			status:   200,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "plain collection",
			method:   "POST",
			path:     "/api/groups",
			status:   201,
			duration: 10 * time.Millisecond,
		},
	}

	expectedCounts := make(map[requestLabel]struct {
		count    uint64
		duration time.Duration
	})

	for _, tc := range cases {
		recorder.ObserveRequest(tc.method, tc.path, tc.status, tc.duration)

		label := requestLabel{
			method: strings.ToUpper(tc.method),
			path:   normalizePath(tc.path),
			status: fmt.Sprintf("%d", tc.status),
		}
		current := expectedCounts[label]
		current.count++
		current.duration += tc.duration
		expectedCounts[label] = current
	}

	if len(recorder.requestCount) != len(expectedCounts) {
		t.Fatalf("unexpected number of labels: got %d want %d", len(recorder.requestCount), len(expectedCounts))
	}

	for label, expected := range expectedCounts {
		gotCount := recorder.requestCount[label]
		gotDuration := recorder.requestDuration[label]
		if gotCount != expected.count {
			t.Errorf("count mismatch for %+v: got %d want %d", label, gotCount, expected.count)
		}
		if gotDuration != expected.duration {
			t.Errorf("duration mismatch for %+v: got %s want %s", label, gotDuration, expected.duration)
		}
	}

	labels := recorder.sortedRequestLabels()
	sortedExpected := make([]requestLabel, 0, len(expectedCounts))
	for label := range expectedCounts {
		sortedExpected = append(sortedExpected, label)
	}
	sort.Slice(sortedExpected, func(i, j int) bool {
		if sortedExpected[i].method != sortedExpected[j].method {
			return sortedExpected[i].method < sortedExpected[j].method
		}
		if sortedExpected[i].path != sortedExpected[j].path {
			return sortedExpected[i].path < sortedExpected[j].path
		}
		return sortedExpected[i].status < sortedExpected[j].status
	})

	if len(labels) != len(sortedExpected) {
		t.Fatalf("sorted labels length mismatch: got %d want %d", len(labels), len(sortedExpected))
	}

	for i := range labels {
		if labels[i] != sortedExpected[i] {
			t.Errorf("sorted label %d mismatch: got %+v want %+v", i, labels[i], sortedExpected[i])
		}
	}
}

func TestTranscodeGaugeNeverGoesNegative(t *testing.T) {
	recorder := New()

	starts := 100
	completions := 80
	failures := 70

	var wg sync.WaitGroup
	wg.Add(starts)
	for i := 0; i < starts; i++ {
		go func() {
			defer wg.Done()
			recorder.TranscodeStarted()
		}()
	}
	wg.Wait()

	wg.Add(completions + failures)
	for i := 0; i < completions; i++ {
		go func() {
			defer wg.Done()
			recorder.TranscodeCompleted()
		}()
	}
	for i := 0; i < failures; i++ {
		go func() {
			defer wg.Done()
			recorder.TranscodeFailed()
		}()
	}
	wg.Wait()

	if active := recorder.ActiveTranscodes(); active != 0 {
		t.Fatalf("active transcodes should floor at zero; got %d", active)
	}

	events, _ := recorder.TranscodeCounts()
	if events["start"] != uint64(starts) {
		t.Fatalf("unexpected start events: got %d want %d", events["start"], starts)
	}
	if events["ready"] != uint64(completions) {
		t.Fatalf("unexpected ready events: got %d want %d", events["ready"], completions)
	}
	if events["failed"] != uint64(failures) {
		t.Fatalf("unexpected failed events: got %d want %d", events["failed"], failures)
	}
}

func TestSetPendingBytesFloorsNegativeValues(t *testing.T) {
	recorder := New()
	recorder.SetPendingBytes(-5)

	var buf bytes.Buffer
	recorder.Write(&buf)
	if !strings.Contains(buf.String(), "mediaplayer_pending_media_bytes 0") {
		t.Fatalf("expected gauge to floor at zero, got %q", buf.String())
	}
}

func TestWriteAndHandlerOutput(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("GET", "/api/media/abc123def4567890xyz", 200, 150*time.Millisecond)
	recorder.ObserveRequest("get", "/api/media/456/", 200, 50*time.Millisecond)
	recorder.ObserveRequest("POST", "/api/media", 202, time.Second)

	recorder.ObserveSubmission("accepted")
	recorder.ObserveSubmission("accepted")
	recorder.ObserveSubmission("rejected_capacity")

	recorder.TranscodeStarted()
	recorder.TranscodeStarted()
	recorder.TranscodeCompleted()

	recorder.SetPendingBytes(2048)

	var buf bytes.Buffer
	recorder.Write(&buf)

	expected := `# HELP mediaplayer_http_requests_total Total number of HTTP requests processed by the API
# TYPE mediaplayer_http_requests_total counter
mediaplayer_http_requests_total{method="GET",path="/api/media/:id",status="200"} 2
mediaplayer_http_requests_total{method="POST",path="/api/media",status="202"} 1
# HELP mediaplayer_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds
# TYPE mediaplayer_http_request_duration_seconds_sum counter
mediaplayer_http_request_duration_seconds_sum{method="GET",path="/api/media/:id",status="200"} 0.200000
mediaplayer_http_request_duration_seconds_sum{method="POST",path="/api/media",status="202"} 1.000000
# HELP mediaplayer_http_request_duration_seconds_count Total number of observations for request durations
# TYPE mediaplayer_http_request_duration_seconds_count counter
mediaplayer_http_request_duration_seconds_count{method="GET",path="/api/media/:id",status="200"} 2
mediaplayer_http_request_duration_seconds_count{method="POST",path="/api/media",status="202"} 1
# HELP mediaplayer_submissions_total Submission admission outcomes
# TYPE mediaplayer_submissions_total counter
mediaplayer_submissions_total{outcome="accepted"} 2
mediaplayer_submissions_total{outcome="rejected_capacity"} 1
# HELP mediaplayer_transcodes_total Transcode pipeline events by status
# TYPE mediaplayer_transcodes_total counter
mediaplayer_transcodes_total{status="ready"} 1
mediaplayer_transcodes_total{status="start"} 2
# HELP mediaplayer_active_transcodes Current number of conversions in flight
# TYPE mediaplayer_active_transcodes gauge
mediaplayer_active_transcodes 1
# HELP mediaplayer_pending_media_bytes Combined declared size of PENDING submissions
# TYPE mediaplayer_pending_media_bytes gauge
mediaplayer_pending_media_bytes 2048`

	if diff := compareLines(buf.String(), expected); diff != "" {
		t.Fatalf("unexpected write output:\n%s", diff)
	}

	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))

	if contentType := res.Result().Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/plain") {
		t.Fatalf("unexpected content type: %s", contentType)
	}

	if diff := compareLines(res.Body.String(), expected); diff != "" {
		t.Fatalf("unexpected handler output:\n%s", diff)
	}
}

func compareLines(actual, expected string) string {
	actualLines := strings.Split(strings.TrimSpace(actual), "\n")
	expectedLines := strings.Split(strings.TrimSpace(expected), "\n")
	if len(actualLines) != len(expectedLines) {
		return formatDiff(actualLines, expectedLines)
	}
	for i := range actualLines {
		if actualLines[i] != expectedLines[i] {
			return formatDiff(actualLines, expectedLines)
		}
	}
	return ""
}

func formatDiff(actual, expected []string) string {
	var b strings.Builder
	b.WriteString("expected\n")
	for _, line := range expected {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("got\n")
	for _, line := range actual {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
