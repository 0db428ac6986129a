package status

// Status represents transcription status of a job
type Status int

const (
	// Processing - job is submitted and waits for the transcriber
	Processing Status = iota + 1
	// Completed - final step, transcription text is available
	Completed
	// Error - final step, transcription failed
	Error
)

var (
	statusName = map[Status]string{Processing: "processing", Completed: "completed", Error: "error"}
	nameStatus = map[string]Status{"processing": Processing, "completed": Completed, "error": Error}
)

func (st Status) String() string {
	return statusName[st]
}

// From returns status obj from string
func From(st string) Status {
	return nameStatus[st]
}

// IsTerminal returns true if no automatic transition may leave the status
func (st Status) IsTerminal() bool {
	return st == Completed || st == Error
}

// CanTransition checks status transition rule: processing -> completed | error
func CanTransition(from, to Status) bool {
	return from == Processing && to.IsTerminal()
}

// AnalysisStatus represents analysis status of a job
type AnalysisStatus int

const (
	// AnalysisPending - analysis has not started yet
	AnalysisPending AnalysisStatus = iota + 1
	// AnalysisProcessing - analysis is running
	AnalysisProcessing
	// AnalysisCompleted - final step, analysis data is available
	AnalysisCompleted
	// AnalysisError - final step, analysis failed
	AnalysisError
)

var (
	analysisName = map[AnalysisStatus]string{AnalysisPending: "pending", AnalysisProcessing: "processing",
		AnalysisCompleted: "completed", AnalysisError: "error"}
	nameAnalysis = map[string]AnalysisStatus{"pending": AnalysisPending, "processing": AnalysisProcessing,
		"completed": AnalysisCompleted, "error": AnalysisError}
)

func (st AnalysisStatus) String() string {
	return analysisName[st]
}

// AnalysisFrom returns analysis status obj from string
func AnalysisFrom(st string) AnalysisStatus {
	return nameAnalysis[st]
}

// IsTerminal returns true if no automatic transition may leave the analysis status
func (st AnalysisStatus) IsTerminal() bool {
	return st == AnalysisCompleted || st == AnalysisError
}

// CanTransitionAnalysis checks analysis transition rule:
// pending -> processing -> completed | error, allowed only when job status is completed
func CanTransitionAnalysis(jobStatus Status, from, to AnalysisStatus) bool {
	if jobStatus != Completed {
		return false
	}
	switch from {
	case AnalysisPending:
		return to == AnalysisProcessing
	case AnalysisProcessing:
		return to.IsTerminal()
	}
	return false
}
