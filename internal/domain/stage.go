package domain

import (
	"fmt"
	"strings"
)

// Stage identifies one of the six ordered pipeline steps.
type Stage string

// Pipeline stages in execution order.
const (
	StageExtractQuestions Stage = "extract_questions"
	StageExtractGabarito  Stage = "extract_gabarito"
	StageExtractAnswers   Stage = "extract_answers"
	StageGrade            Stage = "grade"
	StageAnalyzeSkills    Stage = "analyze_skills"
	StageGenerateReport   Stage = "generate_report"
)

// stageOrder is the fixed execution order. Index positions are relied on by
// StageIndex and Stages.
var stageOrder = [...]Stage{
	StageExtractQuestions,
	StageExtractGabarito,
	StageExtractAnswers,
	StageGrade,
	StageAnalyzeSkills,
	StageGenerateReport,
}

// StageStatus is the lifecycle state of a single stage for a single student.
type StageStatus string

// Possible stage status values
const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
)

// StageScope tells whether a stage produces one document per activity or
// one per student.
type StageScope int

const (
	ScopeActivity StageScope = iota
	ScopeStudent
)

// Stages returns the six stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder[:])
	return out
}

// ParseStage converts a wire name into a Stage.
func ParseStage(name string) (Stage, error) {
	s := Stage(strings.TrimSpace(strings.ToLower(name)))
	if s.Index() < 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return s, nil
}

// Index returns the position of the stage in the pipeline, or -1 when the
// stage is unknown.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the six pipeline stages.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Scope returns whether the stage output belongs to the activity or to a student.
func (s Stage) Scope() StageScope {
	switch s {
	case StageExtractQuestions, StageExtractGabarito:
		return ScopeActivity
	default:
		return ScopeStudent
	}
}

// IsAnalytical reports whether the stage gets a narrative second pass.
func (s Stage) IsAnalytical() bool {
	switch s {
	case StageGrade, StageAnalyzeSkills, StageGenerateReport:
		return true
	default:
		return false
	}
}

// DocumentType returns the type tag of the structured document the stage produces.
func (s Stage) DocumentType() DocumentType {
	switch s {
	case StageExtractQuestions:
		return DocumentQuestions
	case StageExtractGabarito:
		return DocumentAnswerKeyExtraction
	case StageExtractAnswers:
		return DocumentStudentAnswers
	case StageGrade:
		return DocumentGrading
	case StageAnalyzeSkills:
		return DocumentSkillsAnalysis
	case StageGenerateReport:
		return DocumentFinalReport
	default:
		return ""
	}
}

// NarrativeDocumentType returns the type tag of the rendered narrative for an
// analytical stage, or "" for extraction stages.
func (s Stage) NarrativeDocumentType() DocumentType {
	switch s {
	case StageGrade:
		return DocumentGradingNarrative
	case StageAnalyzeSkills:
		return DocumentSkillsNarrative
	case StageGenerateReport:
		return DocumentReportNarrative
	default:
		return ""
	}
}

// After returns the stages that follow s in pipeline order.
func (s Stage) After() []Stage {
	i := s.Index()
	if i < 0 {
		return nil
	}
	out := make([]Stage, 0, len(stageOrder)-i-1)
	out = append(out, stageOrder[i+1:]...)
	return out
}

// IsTerminal reports whether the status is completed or failed.
func (st StageStatus) IsTerminal() bool {
	return st == StageStatusCompleted || st == StageStatusFailed
}

// CanTransitionTo enforces pending→running→{completed,failed}.
func (st StageStatus) CanTransitionTo(next StageStatus) bool {
	switch st {
	case StageStatusPending:
		return next == StageStatusRunning
	case StageStatusRunning:
		return next == StageStatusCompleted || next == StageStatusFailed
	default:
		return false
	}
}
