package domain

import (
	"errors"
	"testing"
)

func TestStagesOrder(t *testing.T) {
	t.Parallel()

	want := []Stage{
		StageExtractQuestions,
		StageExtractGabarito,
		StageExtractAnswers,
		StageGrade,
		StageAnalyzeSkills,
		StageGenerateReport,
	}

	got := Stages()
	if len(got) != len(want) {
		t.Fatalf("Expected %d stages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected stage %d to be %s, got %s", i, want[i], got[i])
		}
		if got[i].Index() != i {
			t.Errorf("Expected index %d for %s, got %d", i, got[i], got[i].Index())
		}
	}

	// Mutating the returned slice must not affect the pipeline order
	got[0] = StageGrade
	if Stages()[0] != StageExtractQuestions {
		t.Error("Stages() returned a slice aliasing the internal order")
	}
}

func TestParseStage(t *testing.T) {
	t.Parallel()

	s, err := ParseStage(" Grade ")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if s != StageGrade {
		t.Errorf("Expected %s, got %s", StageGrade, s)
	}

	_, err = ParseStage("corrigir")
	if !errors.Is(err, ErrUnknownStage) {
		t.Errorf("Expected ErrUnknownStage, got %v", err)
	}
}

func TestStageClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		stage      Stage
		scope      StageScope
		analytical bool
		docType    DocumentType
		narrative  DocumentType
	}{
		{StageExtractQuestions, ScopeActivity, false, DocumentQuestions, ""},
		{StageExtractGabarito, ScopeActivity, false, DocumentAnswerKeyExtraction, ""},
		{StageExtractAnswers, ScopeStudent, false, DocumentStudentAnswers, ""},
		{StageGrade, ScopeStudent, true, DocumentGrading, DocumentGradingNarrative},
		{StageAnalyzeSkills, ScopeStudent, true, DocumentSkillsAnalysis, DocumentSkillsNarrative},
		{StageGenerateReport, ScopeStudent, true, DocumentFinalReport, DocumentReportNarrative},
	}

	for _, tc := range tests {
		t.Run(string(tc.stage), func(t *testing.T) {
			t.Parallel()
			if tc.stage.Scope() != tc.scope {
				t.Errorf("Expected scope %v, got %v", tc.scope, tc.stage.Scope())
			}
			if tc.stage.IsAnalytical() != tc.analytical {
				t.Errorf("Expected analytical=%v", tc.analytical)
			}
			if tc.stage.DocumentType() != tc.docType {
				t.Errorf("Expected document type %s, got %s", tc.docType, tc.stage.DocumentType())
			}
			if tc.stage.NarrativeDocumentType() != tc.narrative {
				t.Errorf("Expected narrative type %q, got %q", tc.narrative, tc.stage.NarrativeDocumentType())
			}
		})
	}
}

func TestStageAfter(t *testing.T) {
	t.Parallel()

	after := StageExtractGabarito.After()
	if len(after) != 4 {
		t.Fatalf("Expected 4 stages after extract_gabarito, got %d", len(after))
	}
	if after[0] != StageExtractAnswers || after[3] != StageGenerateReport {
		t.Errorf("Unexpected stages after extract_gabarito: %v", after)
	}
	if len(StageGenerateReport.After()) != 0 {
		t.Error("Expected no stages after generate_report")
	}
	if Stage("bogus").After() != nil {
		t.Error("Expected nil for unknown stage")
	}
}

func TestStageStatusTransitions(t *testing.T) {
	t.Parallel()

	allowed := map[StageStatus][]StageStatus{
		StageStatusPending: {StageStatusRunning},
		StageStatusRunning: {StageStatusCompleted, StageStatusFailed},
	}
	all := []StageStatus{StageStatusPending, StageStatusRunning, StageStatusCompleted, StageStatusFailed}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: expected %v, got %v", from, to, want, got)
			}
		}
	}
}
