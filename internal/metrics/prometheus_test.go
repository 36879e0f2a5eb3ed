package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

const namespace = "uds_vuln_reporter"

// TestRegisterCounter tests the RegisterCounter method of the Collector.
func TestRegisterCounter(t *testing.T) {
	ctx := WithMetrics(context.Background(), namespace)
	collector := FromContext(ctx, namespace)

	counter, err := collector.RegisterCounter(ctx, "test_counter", "backend")
	if err != nil {
		t.Fatal(err)
	}
	defer collector.UnregisterCounter(ctx, "test_counter", "backend") //nolint:errcheck

	err = collector.AddCounter(ctx, "test_counter", 1, "snyk")
	if err != nil {
		t.Fatal(err)
	}

	err = testutil.CollectAndCompare(counter, strings.NewReader(`
		# HELP uds_vuln_reporter_test_counter Counter for uds_vuln_reporter_test_counter
		# TYPE uds_vuln_reporter_test_counter counter
		uds_vuln_reporter_test_counter{backend="snyk"} 1
	`))
	if err != nil {
		t.Fatal(err)
	}
}

func TestAddCounterWrongLabelCount(t *testing.T) {
	ctx := WithMetrics(context.Background(), namespace)
	collector := FromContext(ctx, namespace)

	if _, err := collector.RegisterCounter(ctx, "test_counter", "backend", "outcome"); err != nil {
		t.Fatal(err)
	}
	if err := collector.AddCounter(ctx, "test_counter", 1, "snyk"); err == nil {
		t.Fatal("expected error for missing label value")
	}
}

// TestRegisterHistogram tests the RegisterHistogram method of the Collector.
func TestRegisterHistogram(t *testing.T) {
	ctx := WithMetrics(context.Background(), namespace)
	collector := FromContext(ctx, namespace)

	_, err := collector.RegisterHistogram(ctx, "test_histogram", "label1")
	if err != nil {
		t.Fatal(err)
	}
	defer collector.UnregisterHistogram(ctx, "test_histogram", "label1") //nolint:errcheck

	err = collector.ObserveHistogram(ctx, "test_histogram", 2.5, "label1")
	if err != nil {
		t.Fatal(err)
	}
}

func TestRegisterHistogram_AlreadyRegistered(t *testing.T) {
	ctx := WithMetrics(context.Background(), namespace)
	collector := FromContext(ctx, namespace)

	_, err := collector.RegisterHistogram(ctx, "test_histogram", "label1")
	if err != nil {
		t.Fatal(err)
	}

	_, err = collector.RegisterHistogram(ctx, "test_histogram", "label1")
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("Expected error to indicate registration conflict, got: %v", err)
	}
}

func TestObserveHistogram_NotFound(t *testing.T) {
	ctx := WithMetrics(context.Background(), namespace)
	collector := FromContext(ctx, namespace)

	err := collector.ObserveHistogram(ctx, "non_existent_histogram", 3.0, "label1")
	if err == nil {
		t.Fatal("Expected error when observing a non-existent histogram, got nil")
	}
	expectedError := "histogram 'uds_vuln_reporter_non_existent_histogram' not found"
	if err.Error() != expectedError {
		t.Fatalf("Expected error: %s, got: %s", expectedError, err.Error())
	}
}

// TestRegisterGauge tests the RegisterGauge method of the Collector.
func TestRegisterGauge(t *testing.T) {
	ctx := WithMetrics(context.Background(), namespace)
	collector := FromContext(ctx, namespace)

	gaugeVec, err := collector.RegisterGauge(ctx, "test_gauge", "label1")
	if err != nil {
		t.Fatal(err)
	}
	if err := collector.SetGauge(ctx, "test_gauge", 3, "a"); err != nil {
		t.Fatal(err)
	}
	err = testutil.CollectAndCompare(gaugeVec, strings.NewReader(`
		# HELP uds_vuln_reporter_test_gauge Gauge for uds_vuln_reporter_test_gauge
		# TYPE uds_vuln_reporter_test_gauge gauge
		uds_vuln_reporter_test_gauge{label1="a"} 3
	`))
	if err != nil {
		t.Fatal(err)
	}

	_, err = collector.RegisterGauge(ctx, "test_gauge", "label1")
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("Expected error to indicate registration conflict, got: %v", err)
	}
}

func TestAddToNonExistentGauge(t *testing.T) {
	ctx := WithMetrics(context.Background(), namespace)
	collector := FromContext(ctx, namespace)

	err := collector.SetGauge(ctx, "non_existent_gauge", 1, "label1")
	if err == nil {
		t.Fatal("expected error for non-existent gauge")
	}
}

// TestMetricsHandler tests the MetricsHandler method of the Collector.
func TestMetricsHandler(t *testing.T) {
	ctx := WithMetrics(context.Background(), namespace)
	collector := FromContext(ctx, namespace)
	if err := RegisterPipelineMetrics(ctx, collector); err != nil {
		t.Fatal(err)
	}
	if err := collector.AddCounter(ctx, ScansTotal, 1, "snyk", OutcomeSuccess); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "/metrics", nil)
	if err != nil {
		t.Fatalf("could not create request: %v", err)
	}

	rr := httptest.NewRecorder()
	collector.MetricsHandler().ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), `uds_vuln_reporter_scans_total{backend="snyk",outcome="success"} 1`) {
		t.Errorf("scan counter missing from exposition:\n%s", rr.Body.String())
	}
}

func TestRegisterPipelineMetricsTwice(t *testing.T) {
	ctx := context.Background()
	collector := New(namespace)
	if err := RegisterPipelineMetrics(ctx, collector); err != nil {
		t.Fatal(err)
	}
	if err := RegisterPipelineMetrics(ctx, collector); err == nil {
		t.Fatal("expected error when registering pipeline metrics twice")
	}
}

// TestNonExistingCounter tests the AddCounter method of the Collector.
func TestNonExistingCounter(t *testing.T) {
	ctx := WithMetrics(context.Background(), namespace)
	collector := FromContext(ctx, namespace)

	err := collector.AddCounter(ctx, "non_existing_counter", 1, "label1")
	if err == nil {
		t.Fatal("expected error for non-existing counter")
	}
}

// TestMeasureFunctionExecutionTime tests the MeasureFunctionExecutionTime method of the Collector.
func TestMeasureFunctionExecutionTime(t *testing.T) {
	ctx := WithMetrics(context.Background(), namespace)
	collector := FromContext(ctx, namespace)

	stopFunc, err := collector.MeasureFunctionExecutionTime(ctx, "render")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	stopFunc()

	// a second timer reuses the histogram
	stopFunc, err = collector.MeasureFunctionExecutionTime(ctx, "render")
	if err != nil {
		t.Fatal(err)
	}
	stopFunc()

	if _, ok := collector.(*prometheusCollector).histograms["uds_vuln_reporter_function_duration_seconds"]; !ok {
		t.Fatal("histogram 'uds_vuln_reporter_function_duration_seconds' not found")
	}

	families, err := collector.(*prometheusCollector).registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var count uint64
	for _, mf := range families {
		if mf.GetName() != "uds_vuln_reporter_function_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			count += m.GetHistogram().GetSampleCount()
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 observations, got %d", count)
	}
}

func TestUnregisterNonExistent(t *testing.T) {
	ctx := WithMetrics(context.Background(), namespace)
	collector := FromContext(ctx, namespace)

	if err := collector.UnregisterHistogram(ctx, "non_existent_histogram"); err != nil {
		t.Fatal("expected no error when unregistering non-existent histogram")
	}
	if err := collector.UnregisterCounter(ctx, "non_existent_counter"); err != nil {
		t.Fatal("expected no error when unregistering non-existent counter")
	}
	if err := collector.UnregisterGauge(ctx, "non_existent_gauge"); err != nil {
		t.Fatal("expected no error when unregistering non-existent gauge")
	}
}

func TestUnregisterThenRegisterAgain(t *testing.T) {
	ctx := context.Background()
	collector := New(namespace)

	if _, err := collector.RegisterCounter(ctx, "test_counter", "label1"); err != nil {
		t.Fatal(err)
	}
	if err := collector.UnregisterCounter(ctx, "test_counter", "label1"); err != nil {
		t.Fatal(err)
	}
	if _, err := collector.RegisterCounter(ctx, "test_counter", "label1"); err != nil {
		t.Fatalf("expected re-registration to succeed, got %v", err)
	}
}
