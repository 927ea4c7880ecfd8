// Package report formats benchmark and verification results.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/weiihann/addrcheck/address"
	"github.com/weiihann/addrcheck/bench"
	"github.com/weiihann/addrcheck/verify"
)

// Benchmark writes a markdown table of the benchmark samples, marking the
// recommended concurrency.
func Benchmark(w io.Writer, rec *bench.Recommendation) error {
	if rec == nil || len(rec.Samples) == 0 {
		return fmt.Errorf("no samples to report")
	}

	// Header.
	fmt.Fprintln(w, "## Concurrency Benchmark")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Recommended concurrency: **%d** (provisional %d)\n",
		rec.Concurrency, rec.Provisional)

	if len(rec.Refined) > 0 {
		fmt.Fprintf(w, "Refined levels: %s\n", joinInts(rec.Refined))
	}

	if rec.Aborted {
		fmt.Fprintln(w, "Coarse scan: **stopped early** on error rate")
	}

	fmt.Fprintln(w)

	// Table header.
	fmt.Fprintln(w, "| K | Requests | OK | Timeouts | Transport | Other "+
		"| Error Rate | Throughput | Mean | Min | Max | Efficiency |")
	fmt.Fprintln(w, "|---|----------|----|----------|-----------|-------"+
		"|------------|------------|------|-----|-----|------------|")

	for _, s := range rec.Samples {
		k := fmt.Sprintf("%d", s.Concurrency)
		if s.Refined {
			k += "*"
		}

		if s.Concurrency == rec.Concurrency {
			k = "**" + k + "**"
		}

		fmt.Fprintf(w, "| %s | %d | %d | %d | %d | %d | %.1f%% | %.2f/s | %s | %s | %s | %.1f |\n",
			k,
			s.Requests,
			s.Successes,
			s.Timeouts,
			s.TransportErrors,
			s.OtherErrors,
			100*s.ErrorRate(),
			s.Throughput,
			formatMs(s.LatencyMeanMs),
			formatMs(s.LatencyMinMs),
			formatMs(s.LatencyMaxMs),
			s.Efficiency(),
		)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "`*` refined with a larger sample")

	return nil
}

// BenchmarkJSON writes the recommendation as JSON to w.
func BenchmarkJSON(w io.Writer, rec *bench.Recommendation) error {
	return encode(w, rec)
}

// Verification writes a markdown summary of a verification run.
func Verification(w io.Writer, s verify.Summary) error {
	fmt.Fprintf(w, "## Verification (%s)\n", s.Mode)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run: `%s`\n", s.RunID)
	fmt.Fprintf(w, "Concurrency: %d, elapsed %s\n", s.Concurrency, formatMs(float64(s.ElapsedMs)))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Rows | Correct | Accuracy |")
	fmt.Fprintln(w, "|------|---------|----------|")
	fmt.Fprintf(w, "| %d | %d | %.1f%% |\n", s.Rows, s.Correct, 100*s.Accuracy())

	if len(s.FieldMismatch) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Field | Mismatches |")
		fmt.Fprintln(w, "|-------|------------|")

		for _, f := range address.OutputFields {
			if n := s.FieldMismatch[string(f)]; n > 0 {
				fmt.Fprintf(w, "| %s | %d |\n", f, n)
			}
		}
	}

	if s.Errors.Failures() > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Error | Rows |")
		fmt.Fprintln(w, "|-------|------|")

		for _, k := range s.Errors.Kinds() {
			if k == address.KindNone {
				continue
			}

			fmt.Fprintf(w, "| %s | %d |\n", k, s.Errors[k])
		}
	}

	if len(s.MissingColumns) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Missing result columns: %s\n", joinFields(s.MissingColumns))
	}

	return nil
}

// VerificationJSON writes the summary as JSON to w.
func VerificationJSON(w io.Writer, s verify.Summary) error {
	return encode(w, s)
}

func encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	return enc.Encode(v)
}

func formatMs(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.0fms", ms)
	}

	return fmt.Sprintf("%.2fs", ms/1000)
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("%d", v)
	}

	return strings.Join(parts, ", ")
}

func joinFields(fs []address.FieldName) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = string(f)
	}

	return strings.Join(parts, ", ")
}
