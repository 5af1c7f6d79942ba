package workflow

import (
	"errors"
	"strings"
)

// ItemError is the failure of one batch item
type ItemError struct {
	ID  string
	Err error
}

func (e ItemError) Error() string {
	return e.ID + ": " + e.Err.Error()
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// BatchReport is the outcome of one verify or download pass
type BatchReport struct {
	// Completed items left the pending list
	Completed []string
	// Pending items were processed and stay pending
	Pending []string
	Failed  []ItemError
	// Skipped items were not started because the pass was stopped
	Skipped []string
}

// Remaining returns the ids that stay on the pending list
func (r *BatchReport) Remaining() []string {
	out := make([]string, 0, len(r.Pending)+len(r.Failed)+len(r.Skipped))
	out = append(out, r.Pending...)
	for _, f := range r.Failed {
		out = append(out, f.ID)
	}
	return append(out, r.Skipped...)
}

// Err joins the item failures, or returns nil
func (r *BatchReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func (r *BatchReport) String() string {
	var b strings.Builder
	b.WriteString("completed=")
	b.WriteString(strings.Join(r.Completed, "|"))
	b.WriteString(" pending=")
	b.WriteString(strings.Join(r.Pending, "|"))
	b.WriteString(" failed=")
	for i, f := range r.Failed {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(f.ID)
	}
	b.WriteString(" skipped=")
	b.WriteString(strings.Join(r.Skipped, "|"))
	return b.String()
}
