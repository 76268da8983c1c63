package domain

// Stage identifies one phase of the extraction pipeline. Stages are
// ordered; the ordinal is used for display and for detecting stage
// transitions in otherwise untyped progress frames.
type Stage string

const (
	StageDocumentProcessing  Stage = "document_processing"
	StageMetadataExtraction  Stage = "metadata_extraction"
	StageTableDetection      Stage = "table_detection"
	StageDataExtraction      Stage = "data_extraction"
	StageFinancialProcessing Stage = "financial_processing"
	StageQualityAssurance    Stage = "quality_assurance"
)

var stageOrder = []Stage{
	StageDocumentProcessing,
	StageMetadataExtraction,
	StageTableDetection,
	StageDataExtraction,
	StageFinancialProcessing,
	StageQualityAssurance,
}

// Ordinal returns the zero-based position of the stage in the pipeline,
// or -1 for stages this client does not know about.
func (s Stage) Ordinal() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

func FinalStage() Stage {
	return stageOrder[len(stageOrder)-1]
}

type TerminalStatus string

const (
	TerminalSuccess   TerminalStatus = "success"
	TerminalFailure   TerminalStatus = "failure"
	TerminalCancelled TerminalStatus = "cancelled"
)

// Terminal is the final, immutable outcome of a progress session.
type Terminal struct {
	Status TerminalStatus
	Result *ExtractionResult
	Err    string
}

// ProgressState is an immutable-per-transition snapshot of extraction
// progress. Apply produces the next snapshot; once Terminal is set the
// state is frozen and further frames are ignored.
type ProgressState struct {
	Stage              Stage
	Percentage         float64
	Message            string
	EstimatedRemaining string
	Terminal           *Terminal
}

func NewProgressState() ProgressState {
	return ProgressState{Stage: StageDocumentProcessing}
}

// Apply folds one protocol frame into the state and reports whether
// anything changed. Housekeeping frames never change state. Fields
// absent from a frame retain their prior values, and the percentage
// never decreases.
func (s ProgressState) Apply(f Frame) (ProgressState, bool) {
	if s.Terminal != nil {
		return s, false
	}

	next := s
	switch f.Type {
	case FrameStepStarted, FrameStepProgress, FrameStepCompleted, FrameProgressUpdate:
		next.mergeProgress(f.Progress)
	case FrameCompletion:
		next.Stage = FinalStage()
		next.Percentage = 100
		next.Terminal = &Terminal{Status: TerminalSuccess, Result: f.Result}
		return next, true
	case FrameError:
		if f.Error != nil && f.Error.Cancelled() {
			next.Terminal = &Terminal{Status: TerminalCancelled}
		} else {
			msg := "extraction failed"
			if f.Error != nil && f.Error.Message != "" {
				msg = f.Error.Message
			}
			next.Terminal = &Terminal{Status: TerminalFailure, Err: msg}
		}
		return next, true
	default:
		return s, false
	}

	return next, next != s
}

func (s *ProgressState) mergeProgress(p *ProgressPayload) {
	if p == nil {
		return
	}
	if p.Stage != "" {
		s.Stage = p.Stage
	}
	if p.Percentage != nil {
		s.Percentage = clampPercentage(s.Percentage, *p.Percentage)
	}
	if p.Message != "" {
		s.Message = p.Message
	}
	if p.EstimatedTime != "" {
		s.EstimatedRemaining = p.EstimatedTime
	}
}

func clampPercentage(current, incoming float64) float64 {
	if incoming > 100 {
		incoming = 100
	}
	if incoming < current {
		return current
	}
	return incoming
}
