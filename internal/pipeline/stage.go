package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Stage is a state of the linear run state machine.
type Stage string

const (
	StageAccepted    Stage = "ACCEPTED"
	StageGenerating  Stage = "GENERATING"
	StageParsed      Stage = "PARSED"
	StageDocumenting Stage = "DOCUMENTING"
	StageAssembled   Stage = "ASSEMBLED"
	StageSyncing     Stage = "SYNCING"
	StageActivating  Stage = "ACTIVATING"
	StagePolling     Stage = "POLLING"
	StageReporting   Stage = "REPORTING"
	StageDone        Stage = "DONE"
	StageFailed      Stage = "FAILED"
)

// Stages lists the non-failed stages in run order.
var Stages = []Stage{
	StageAccepted, StageGenerating, StageParsed, StageDocumenting, StageAssembled,
	StageSyncing, StageActivating, StagePolling, StageReporting, StageDone,
}

// Terminal reports whether no further transition leaves s.
func (s Stage) Terminal() bool { return s == StageDone || s == StageFailed }

// Severity classifies the outcome of one step.
type Severity int

const (
	// SeverityNone: the step succeeded.
	SeverityNone Severity = iota
	// SeverityRecoverable: part of the step failed (a skipped file); the run continues.
	SeverityRecoverable
	// SeverityBestEffort: the step failed; the run continues and still completes.
	SeverityBestEffort
	// SeverityUnrecoverable: the step failed and the run moves to FAILED.
	SeverityUnrecoverable
)

var severityNames = [...]string{"none", "recoverable", "best_effort", "unrecoverable"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	for i, name := range severityNames {
		if strings.EqualFold(string(b), name) {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", b)
}

// StepResult is the tagged outcome of one stage.
type StepResult struct {
	Stage    Stage         `json:"stage"`
	Severity Severity      `json:"severity"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	Started  time.Time     `json:"started_at"`
	Duration time.Duration `json:"duration_ns"`
}

// Failed reports whether the step did not fully succeed.
func (r StepResult) Failed() bool { return r.Severity != SeverityNone }
