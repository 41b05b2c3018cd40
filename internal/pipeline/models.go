package pipeline

import "github.com/phrazzld/gradeflow/internal/domain"

// ModelSelection resolves the model used for each stage.
type ModelSelection struct {
	// Default applies when neither the run nor Stages names a model.
	Default string

	// Stages holds configured per-stage models.
	Stages map[domain.Stage]string
}

// NewModelSelection builds a selection from configuration, ignoring
// entries whose key is not a stage name.
func NewModelSelection(defaultModel string, stageModels map[string]string) ModelSelection {
	sel := ModelSelection{Default: defaultModel, Stages: make(map[domain.Stage]string, len(stageModels))}
	for name, model := range stageModels {
		stage, err := domain.ParseStage(name)
		if err != nil || model == "" {
			continue
		}
		sel.Stages[stage] = model
	}
	return sel
}

// Resolve returns the run override for stage, else the configured stage
// model, else the default.
func (m ModelSelection) Resolve(stage domain.Stage, overrides map[domain.Stage]string) string {
	if model := overrides[stage]; model != "" {
		return model
	}
	if model := m.Stages[stage]; model != "" {
		return model
	}
	return m.Default
}
