package address

import (
	"context"
	"fmt"
	"sort"
)

// ErrorKind classifies why a row produced no usable result.
type ErrorKind int

// Error kinds. KindNone means success.
const (
	KindNone ErrorKind = iota
	KindTransport
	KindTimeout
	KindMalformed
	KindQuery
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindMalformed:
		return "malformed"
	case KindQuery:
		return "query"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText renders the kind by name.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is the result of processing one row: Success when Kind is
// KindNone, Empty otherwise.
type Outcome struct {
	Records []Record `json:"records,omitempty"`

	// Confidence is the service's combined probability. Normalize only.
	Confidence float64 `json:"confidence,omitempty"`

	Kind ErrorKind `json:"kind"`
	Err  error     `json:"-"`
}

// Success builds a successful outcome.
func Success(confidence float64, records ...Record) Outcome {
	return Outcome{Records: records, Confidence: confidence}
}

// Failed builds an Empty outcome tagged with kind.
func Failed(kind ErrorKind, err error) Outcome {
	return Outcome{Kind: kind, Err: err}
}

// OK reports whether the outcome is a Success.
func (o Outcome) OK() bool {
	return o.Kind == KindNone
}

// Processor turns one row into an outcome. Implementations never return
// errors; failures are reported through Outcome.Kind.
type Processor interface {
	Process(ctx context.Context, row Row) Outcome
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, row Row) Outcome

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, row Row) Outcome {
	return f(ctx, row)
}

// Tally counts outcomes by kind.
type Tally map[ErrorKind]int

// Failures returns the number of non-successful outcomes.
func (t Tally) Failures() int {
	n := 0
	for k, c := range t {
		if k != KindNone {
			n += c
		}
	}

	return n
}

// Kinds returns the tallied kinds in ascending order.
func (t Tally) Kinds() []ErrorKind {
	kinds := make([]ErrorKind, 0, len(t))
	for k := range t {
		kinds = append(kinds, k)
	}

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return kinds
}
