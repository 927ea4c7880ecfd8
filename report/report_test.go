package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/weiihann/addrcheck/address"
	"github.com/weiihann/addrcheck/bench"
	"github.com/weiihann/addrcheck/verify"
)

func testRecommendation() *bench.Recommendation {
	return &bench.Recommendation{
		Concurrency: 4,
		Provisional: 8,
		Refined:     []int{4, 8},
		Samples: []bench.Sample{
			{
				Concurrency:   1,
				Requests:      10,
				Successes:     10,
				Throughput:    5,
				LatencyMeanMs: 200,
				LatencyMinMs:  150,
				LatencyMaxMs:  250,
			},
			{
				Concurrency:   4,
				Requests:      500,
				Successes:     495,
				Timeouts:      5,
				Throughput:    18,
				LatencyMeanMs: 220,
				LatencyMinMs:  160,
				LatencyMaxMs:  1500,
				Refined:       true,
			},
		},
	}
}

func TestBenchmark(t *testing.T) {
	var buf bytes.Buffer
	if err := Benchmark(&buf, testRecommendation()); err != nil {
		t.Fatalf("Benchmark failed: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "Recommended concurrency: **4** (provisional 8)") {
		t.Error("expected recommendation line")
	}
	if !strings.Contains(output, "| **4*** | 500 | 495 | 5 |") {
		t.Error("expected chosen refined level to be marked")
	}
	if !strings.Contains(output, "1.0%") {
		t.Error("expected 1.0% error rate for K=4")
	}
	if !strings.Contains(output, "1.50s") {
		t.Error("expected max latency in seconds")
	}
	if !strings.Contains(output, "| 25.0 |") {
		t.Error("expected efficiency 25.0 for K=1")
	}
	if strings.Contains(output, "stopped early") {
		t.Error("did not expect abort notice")
	}
}

func TestBenchmarkAborted(t *testing.T) {
	rec := testRecommendation()
	rec.Aborted = true

	var buf bytes.Buffer
	if err := Benchmark(&buf, rec); err != nil {
		t.Fatalf("Benchmark failed: %v", err)
	}

	if !strings.Contains(buf.String(), "stopped early") {
		t.Error("expected abort notice")
	}
}

func TestBenchmarkEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Benchmark(&buf, nil); err == nil {
		t.Error("expected error for nil recommendation")
	}
	if err := Benchmark(&buf, &bench.Recommendation{}); err == nil {
		t.Error("expected error for empty samples")
	}
}

func TestBenchmarkJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := BenchmarkJSON(&buf, testRecommendation()); err != nil {
		t.Fatalf("BenchmarkJSON failed: %v", err)
	}

	var parsed bench.Recommendation
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if parsed.Concurrency != 4 {
		t.Errorf("concurrency = %d, want 4", parsed.Concurrency)
	}
	if len(parsed.Samples) != 2 || !parsed.Samples[1].Refined {
		t.Errorf("samples not preserved: %+v", parsed.Samples)
	}
}

func testSummary() verify.Summary {
	return verify.Summary{
		RunID:         "0192-run",
		Mode:          "lookup",
		Rows:          4,
		Correct:       3,
		FieldMismatch: map[string]int{"City": 1},
		Errors: address.Tally{
			address.KindNone:  3,
			address.KindQuery: 1,
		},
		MissingColumns: []address.FieldName{address.Province},
		Concurrency:    8,
		ElapsedMs:      1500,
	}
}

func TestVerification(t *testing.T) {
	var buf bytes.Buffer
	if err := Verification(&buf, testSummary()); err != nil {
		t.Fatalf("Verification failed: %v", err)
	}

	output := buf.String()

	for _, want := range []string{
		"## Verification (lookup)",
		"`0192-run`",
		"| 4 | 3 | 75.0% |",
		"| City | 1 |",
		"| query | 1 |",
		"Missing result columns: Province",
		"elapsed 1.50s",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output", want)
		}
	}

	if strings.Contains(output, "| none |") {
		t.Error("successful rows should not be listed as errors")
	}
}

func TestVerificationJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := VerificationJSON(&buf, testSummary()); err != nil {
		t.Fatalf("VerificationJSON failed: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if parsed["run_id"] != "0192-run" {
		t.Errorf("run_id = %v, want 0192-run", parsed["run_id"])
	}

	errs, ok := parsed["errors"].(map[string]any)
	if !ok || errs["query"] != float64(1) {
		t.Errorf("errors = %v, want query count", parsed["errors"])
	}
}

func TestFormatMs(t *testing.T) {
	tests := []struct {
		input float64
		want  string
	}{
		{0, "0ms"},
		{500, "500ms"},
		{999.4, "999ms"},
		{1000, "1.00s"},
		{1500, "1.50s"},
		{60000, "60.00s"},
	}

	for _, tt := range tests {
		got := formatMs(tt.input)
		if got != tt.want {
			t.Errorf("formatMs(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
