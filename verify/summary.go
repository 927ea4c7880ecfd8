package verify

import "github.com/weiihann/addrcheck/address"

// Summary aggregates a verification run for operators.
type Summary struct {
	RunID          string              `json:"run_id"`
	Mode           string              `json:"mode"`
	Rows           int                 `json:"rows"`
	Correct        int                 `json:"correct"`
	FieldMismatch  map[string]int      `json:"field_mismatches"`
	Errors         address.Tally       `json:"errors"`
	MissingColumns []address.FieldName `json:"missing_columns,omitempty"`
	Concurrency    int                 `json:"concurrency"`
	ElapsedMs      int64               `json:"elapsed_ms"`
}

// Accuracy returns the share of correct rows in [0, 1].
func (s Summary) Accuracy() float64 {
	if s.Rows == 0 {
		return 0
	}

	return float64(s.Correct) / float64(s.Rows)
}

// Summarize counts correct rows and per-field mismatches.
func Summarize(verdicts []CorrectnessRow, tally address.Tally) Summary {
	s := Summary{
		Rows:          len(verdicts),
		FieldMismatch: make(map[string]int),
		Errors:        tally,
	}

	for _, v := range verdicts {
		if v.Correct {
			s.Correct++
		}

		for _, f := range v.Fields {
			if !f.Match {
				s.FieldMismatch[string(f.Field)]++
			}
		}
	}

	return s
}
