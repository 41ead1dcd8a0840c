package schema

import "slices"

// IssueSeverity tells a rejected conf apart from a merely suspicious one.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// ConfIssue is one problem found in a WorkflowConf. Path points into the
// conf (e.g. "jobs[2].depends_on[0]"); Job names the job it concerns, if any.
type ConfIssue struct {
	Path     string        `json:"path"`
	Job      string        `json:"job,omitempty"`
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Severity IssueSeverity `json:"severity"`
}

// ValidationResult collects the issues of every conf check.
type ValidationResult struct {
	Errors   []ConfIssue `json:"errors,omitempty"`
	Warnings []ConfIssue `json:"warnings,omitempty"`
}

// Valid reports whether no check produced an error. Warnings do not count.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError records an error that concerns no single job.
func (r *ValidationResult) AddError(path, code, message string) {
	r.AddJobError("", path, code, message)
}

// AddJobError records an error about one job.
func (r *ValidationResult) AddJobError(job, path, code, message string) {
	r.Errors = append(r.Errors, ConfIssue{
		Path: path, Job: job, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddJobWarning records a warning about one job.
func (r *ValidationResult) AddJobWarning(job, path, code, message string) {
	r.Warnings = append(r.Warnings, ConfIssue{
		Path: path, Job: job, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge appends the issues of other. A nil other is ignored.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Jobs returns the sorted, distinct job names that have errors.
func (r *ValidationResult) Jobs() []string {
	var jobs []string
	for _, issue := range r.Errors {
		if issue.Job != "" && !slices.Contains(jobs, issue.Job) {
			jobs = append(jobs, issue.Job)
		}
	}
	slices.Sort(jobs)
	return jobs
}

// ToError converts an invalid result to an *Error, nil when valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	details := map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	}
	if jobs := r.Jobs(); len(jobs) > 0 {
		details["jobs"] = jobs
	}

	// A lone issue keeps its own code, and so do issues that all share one,
	// so callers can tell a cycle apart.
	if len(r.Errors) == 1 {
		issue := r.Errors[0]
		return NewError(issue.Code, issue.Message).WithJob(issue.Job).WithDetails(details)
	}
	code := r.Errors[0].Code
	for _, issue := range r.Errors[1:] {
		if issue.Code != code {
			code = ErrCodeValidation
			break
		}
	}
	return NewErrorf(code, "workflow conf has %d errors", len(r.Errors)).WithDetails(details)
}
