// Package bench finds the concurrency level at which the normalization
// service completes work most efficiently.
package bench

import (
	"math"
	"time"

	"github.com/weiihann/addrcheck/address"
)

// Sample holds the measurements taken at one concurrency level.
// Throughput and latency cover successful requests only; error counts and
// the error rate cover every request.
type Sample struct {
	Concurrency     int     `json:"concurrency"`
	Requests        int     `json:"requests"`
	Successes       int     `json:"successes"`
	Timeouts        int     `json:"timeouts"`
	TransportErrors int     `json:"transport_errors"`
	OtherErrors     int     `json:"other_errors"`
	ElapsedMs       float64 `json:"elapsed_ms"`
	Throughput      float64 `json:"throughput_rps"`
	LatencyMeanMs   float64 `json:"latency_mean_ms"`
	LatencyMinMs    float64 `json:"latency_min_ms"`
	LatencyMaxMs    float64 `json:"latency_max_ms"`
	Refined         bool    `json:"refined"`
}

// Failures returns the number of failed requests.
func (s Sample) Failures() int {
	return s.Timeouts + s.TransportErrors + s.OtherErrors
}

// ErrorRate returns failed requests over all requests.
func (s Sample) ErrorRate() float64 {
	if s.Requests == 0 {
		return 0
	}

	return float64(s.Failures()) / float64(s.Requests)
}

// Efficiency is throughput divided by mean latency in seconds. Higher is
// better; a sample without successes scores zero.
func (s Sample) Efficiency() float64 {
	if s.Successes == 0 || s.LatencyMeanMs <= 0 {
		return 0
	}

	return s.Throughput / (s.LatencyMeanMs / 1000)
}

// EstimatedSeconds is the time needed to complete volume requests at the
// sample's throughput.
func (s Sample) EstimatedSeconds(volume int) float64 {
	if s.Throughput <= 0 {
		return math.Inf(1)
	}

	return float64(volume) / s.Throughput
}

// observation is one timed request.
type observation struct {
	latency time.Duration
	kind    address.ErrorKind
}

// summarize builds a Sample from the observations of one level.
func summarize(k int, obs []observation, elapsed time.Duration) Sample {
	s := Sample{
		Concurrency: k,
		Requests:    len(obs),
		ElapsedMs:   durationMs(elapsed),
	}

	var (
		total  time.Duration
		lo, hi time.Duration
	)

	for _, o := range obs {
		switch o.kind {
		case address.KindNone:
		case address.KindTimeout:
			s.Timeouts++

			continue
		case address.KindTransport:
			s.TransportErrors++

			continue
		default:
			s.OtherErrors++

			continue
		}

		if s.Successes == 0 || o.latency < lo {
			lo = o.latency
		}

		if o.latency > hi {
			hi = o.latency
		}

		total += o.latency
		s.Successes++
	}

	if s.Successes > 0 {
		s.LatencyMeanMs = durationMs(total) / float64(s.Successes)
		s.LatencyMinMs = durationMs(lo)
		s.LatencyMaxMs = durationMs(hi)
	}

	if elapsed > 0 {
		s.Throughput = float64(s.Successes) / elapsed.Seconds()
	}

	return s
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
