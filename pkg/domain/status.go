package domain

import "strings"

// StepType is a processing step kind.
type StepType string

const (
	StepCleaning  StepType = "cleaning"
	StepDrying    StepType = "drying"
	StepGrinding  StepType = "grinding"
	StepSorting   StepType = "sorting"
	StepPackaging StepType = "packaging"
)

// Steps lists processing steps in their advisory order.
var Steps = []StepType{StepCleaning, StepDrying, StepGrinding, StepSorting, StepPackaging}

// ParseStepType validates a step name.
func ParseStepType(s string) (StepType, error) {
	st := StepType(strings.ToLower(strings.TrimSpace(s)))
	if StepRank(st) < 0 {
		return "", InvalidArgument("unknown processing step %q", s)
	}
	return st, nil
}

// StepRank returns the position of st in Steps, or -1.
func StepRank(st StepType) int {
	for i, s := range Steps {
		if s == st {
			return i
		}
	}
	return -1
}

// BatchStatus is the canonical ledger status of a herb batch.
type BatchStatus string

const (
	StatusCollected         BatchStatus = "collected"
	StatusQualityFail       BatchStatus = "quality_fail"
	StatusUsedInFormulation BatchStatus = "used_in_formulation"

	processedPrefix = "processed:"
)

// ProcessedStatus returns processed:<step>.
func ProcessedStatus(st StepType) BatchStatus {
	return BatchStatus(processedPrefix + string(st))
}

// Step reports the processing step of a processed:<step> status.
func (s BatchStatus) Step() (StepType, bool) {
	if !strings.HasPrefix(string(s), processedPrefix) {
		return "", false
	}
	st := StepType(strings.TrimPrefix(string(s), processedPrefix))
	return st, StepRank(st) >= 0
}

func (s BatchStatus) IsTerminal() bool {
	return s == StatusQualityFail || s == StatusUsedInFormulation
}

func (s BatchStatus) valid() bool {
	switch s {
	case StatusCollected, StatusQualityFail, StatusUsedInFormulation:
		return true
	}
	_, ok := s.Step()
	return ok
}

// MirrorString renders the status in the off-chain spelling
// (processed-drying, quality-fail, used-in-formulation).
func (s BatchStatus) MirrorString() string {
	if st, ok := s.Step(); ok {
		return "processed-" + string(st)
	}
	return strings.ReplaceAll(string(s), "_", "-")
}

// ParseStatus accepts both the ledger and the mirror spelling and returns the
// canonical ledger status. Unknown strings are rejected.
func ParseStatus(s string) (BatchStatus, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(v, "processed-") {
		v = processedPrefix + strings.TrimPrefix(v, "processed-")
	} else {
		v = strings.ReplaceAll(v, "-", "_")
	}
	st := BatchStatus(v)
	if !st.valid() {
		return "", InvalidArgument("unknown batch status %q", s)
	}
	return st, nil
}

// CanTransition reports whether the status graph has an edge from -> to.
func CanTransition(from, to BatchStatus) bool {
	if from.IsTerminal() || !to.valid() {
		return false
	}
	switch to {
	case StatusCollected:
		return false
	case StatusQualityFail, StatusUsedInFormulation:
		return true
	}
	// to is processed:<step>; reachable from collected and any processed state.
	return from == StatusCollected || strings.HasPrefix(string(from), processedPrefix)
}

// CheckTransition returns a ValidationError when from -> to is not allowed.
func CheckTransition(batchID string, from, to BatchStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	if from.IsTerminal() {
		return Validationf("terminalStatus", "batch %s is %s and accepts no further transitions", batchID, from)
	}
	return Validationf("statusTransition", "batch %s cannot move from %s to %s", batchID, from, to)
}
