package constants

// RecordState is the lifecycle state of a page extraction record.
type RecordState string

// Stable values (these exact strings are written to artifacts).
const (
	StateUnprocessed    RecordState = "UNPROCESSED"
	StateExtracted      RecordState = "EXTRACTED"       // model call succeeded
	StateErrored        RecordState = "ERRORED"         // provider or parse failure, terminal until reset
	StateManuallyEdited RecordState = "MANUALLY_EDITED" // at least one human correction applied
)

var transitions = map[RecordState][]RecordState{
	StateUnprocessed:    {StateExtracted, StateErrored},
	StateExtracted:      {StateManuallyEdited},
	StateManuallyEdited: {StateManuallyEdited},
	StateErrored:        {StateUnprocessed},
}

// CanTransition reports whether a record may move from one state to another.
func CanTransition(from, to RecordState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseRecordState maps a stored string back to a state. Blank values from
// legacy artifacts are treated as extracted.
func ParseRecordState(s string) (RecordState, bool) {
	switch RecordState(s) {
	case StateUnprocessed, StateExtracted, StateErrored, StateManuallyEdited:
		return RecordState(s), true
	case "":
		return StateExtracted, true
	}
	return "", false
}

// RunStatus is the outcome of a single document in a batch run.
type RunStatus string

const (
	RunStatusOK     RunStatus = "ok"
	RunStatusEmpty  RunStatus = "empty"  // no page survived the category gate
	RunStatusFailed RunStatus = "failed" // download, rasterize or storage failure
)
