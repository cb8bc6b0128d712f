package batch

import "fmt"

// Report aggregates the outcomes of a batch, in input order.
type Report struct {
	Outcomes  []Outcome
	Succeeded int
	Skipped   int
	Failed    int
}

func NewReport(outcomes []Outcome) *Report {
	r := &Report{Outcomes: outcomes}

	for _, o := range outcomes {
		switch o.Status {
		case StatusSucceeded:
			r.Succeeded++
		case StatusSkipped:
			r.Skipped++
		default:
			r.Failed++
		}
	}

	return r
}

// Summary renders the report as "2 succeeded, 1 failed". Skipped items count as
// successes and are called out separately.
func (r *Report) Summary() string {
	s := fmt.Sprintf("%d succeeded, %d failed", r.Succeeded+r.Skipped, r.Failed)
	if r.Skipped > 0 {
		s += fmt.Sprintf(" (%d skipped)", r.Skipped)
	}

	return s
}

// Failures returns the failed outcomes.
func (r *Report) Failures() []Outcome {
	var failed []Outcome

	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			failed = append(failed, o)
		}
	}

	return failed
}
