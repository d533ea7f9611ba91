package regression

import (
	"errors"
	"time"
)

var (
	// ErrGoldenMissing is reported when a case has no golden reference.
	ErrGoldenMissing = errors.New("golden reference missing")

	// ErrTechMismatch is returned when a suite targets another technology.
	ErrTechMismatch = errors.New("suite technology does not match")
)

// Status is the outcome of one case.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusError   Status = "error"
	StatusUpdated Status = "updated"
	StatusCached  Status = "cached"
	StatusSkipped Status = "skipped"
)

// OK reports whether the status counts as success.
func (s Status) OK() bool {
	return s == StatusPass || s == StatusUpdated || s == StatusCached
}

// Artifacts are the files a case wrote.
type Artifacts struct {
	Netlist  string `json:"netlist,omitempty"`
	Abstract string `json:"abstract,omitempty"`
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	ID         string     `json:"id"`
	Generator  string     `json:"generator"`
	Status     Status     `json:"status"`
	DurationMS int64      `json:"durationMs"`
	Message    string     `json:"message,omitempty"`
	Diff       string     `json:"diff,omitempty"`
	Cells      []string   `json:"cells,omitempty"`
	Artifacts  *Artifacts `json:"artifacts,omitempty"`
}

// Summary counts cases by status.
type Summary struct {
	Total   int `json:"total"`
	Pass    int `json:"pass"`
	Fail    int `json:"fail"`
	Error   int `json:"error"`
	Updated int `json:"updated"`
	Cached  int `json:"cached"`
	Skipped int `json:"skipped"`
}

func (s *Summary) add(st Status) {
	s.Total++
	switch st {
	case StatusPass:
		s.Pass++
	case StatusFail:
		s.Fail++
	case StatusError:
		s.Error++
	case StatusUpdated:
		s.Updated++
	case StatusCached:
		s.Cached++
	case StatusSkipped:
		s.Skipped++
	}
}

// Impact lists library changes since the previous run and the cases that
// use the touched cells.
type Impact struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
	Cases   []string `json:"cases"`
}

// RunResult is the outcome of one suite run.
type RunResult struct {
	RunID       string       `json:"runId"`
	Suite       string       `json:"suite,omitempty"`
	Tech        string       `json:"tech"`
	Started     time.Time    `json:"started"`
	DurationMS  int64        `json:"durationMs"`
	LibraryHash string       `json:"libraryHash"`
	Cases       []CaseResult `json:"cases"`
	Summary     Summary      `json:"summary"`
	Impact      *Impact      `json:"impact,omitempty"`
}

// OK reports whether every case succeeded.
func (r *RunResult) OK() bool {
	for _, c := range r.Cases {
		if !c.Status.OK() {
			return false
		}
	}
	return true
}
