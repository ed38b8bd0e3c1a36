package models

// CheckStatus is the outcome of one verification check.
type CheckStatus string

const (
	CheckOK   CheckStatus = "ok"
	CheckFail CheckStatus = "fail"
)

type Check struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// VerificationReport collects every check of a pipeline. A failed check
// never stops the remaining ones from running.
type VerificationReport struct {
	Subject string      `json:"subject"`
	Status  CheckStatus `json:"status"`
	Checks  []Check     `json:"checks"`
}

func NewReport(subject string) *VerificationReport {
	return &VerificationReport{Subject: subject, Status: CheckOK, Checks: []Check{}}
}

// Add records a check and downgrades the report on failure.
func (r *VerificationReport) Add(name string, ok bool, detail string) bool {
	status := CheckOK
	if !ok {
		status = CheckFail
		r.Status = CheckFail
	}
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Detail: detail})
	return ok
}

// OK reports whether every check passed.
func (r *VerificationReport) OK() bool {
	return r.Status == CheckOK
}

// Check returns the named check, if present.
func (r *VerificationReport) Check(name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// Merge appends other's checks, prefixing their names.
func (r *VerificationReport) Merge(prefix string, other *VerificationReport) {
	for _, c := range other.Checks {
		r.Add(prefix+c.Name, c.Status == CheckOK, c.Detail)
	}
}
