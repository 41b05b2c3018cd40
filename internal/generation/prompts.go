package generation

import (
	"bytes"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/phrazzld/gradeflow/internal/domain"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// PromptData holds the variables available to every prompt template.
type PromptData struct {
	StudentName  string
	Subject      string
	ActivityName string

	// ResultJSON is the structured stage output embedded by narrative prompts.
	ResultJSON string

	QuestionsJSON string
	AnswerKeyJSON string
	AnswersJSON   string
	GradingJSON   string
	SkillsJSON    string

	// Class report inputs.
	ReportsJSON      string
	TotalStudents    int
	IncludedStudents int
	ExcludedStudents string
}

// RenderedPrompt is a prompt ready to be sent.
type RenderedPrompt struct {
	ID     string
	System string
	User   string
}

// PromptSet is the parsed collection of embedded prompt templates, keyed by id.
type PromptSet struct {
	templates map[string]*template.Template
}

// LoadPrompts parses every embedded template. Each file defines a "system"
// and a "user" template and is registered under its file name without extension.
func LoadPrompts() (*PromptSet, error) {
	files, err := promptFS.ReadDir("prompts")
	if err != nil {
		return nil, fmt.Errorf("%w: reading prompts: %v", ErrInvalidConfig, err)
	}

	set := &PromptSet{templates: make(map[string]*template.Template, len(files))}
	for _, f := range files {
		id := strings.TrimSuffix(f.Name(), path.Ext(f.Name()))
		tmpl, err := template.New(id).Option("missingkey=error").ParseFS(promptFS, "prompts/"+f.Name())
		if err != nil {
			return nil, fmt.Errorf("%w: parsing prompt %s: %v", ErrInvalidConfig, id, err)
		}
		if tmpl.Lookup("system") == nil || tmpl.Lookup("user") == nil {
			return nil, fmt.Errorf("%w: prompt %s must define system and user", ErrInvalidConfig, id)
		}
		set.templates[id] = tmpl
	}
	return set, nil
}

// MustLoadPrompts is LoadPrompts for package initialization and tests.
func MustLoadPrompts() *PromptSet {
	set, err := LoadPrompts()
	if err != nil {
		panic(err)
	}
	return set
}

// IDs returns the registered prompt ids in sorted order.
func (s *PromptSet) IDs() []string {
	ids := make([]string, 0, len(s.templates))
	for id := range s.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Render executes the prompt registered under id.
func (s *PromptSet) Render(id string, data PromptData) (RenderedPrompt, error) {
	tmpl, ok := s.templates[id]
	if !ok {
		return RenderedPrompt{}, fmt.Errorf("%w: %s", ErrUnknownPrompt, id)
	}

	var system, user bytes.Buffer
	if err := tmpl.ExecuteTemplate(&system, "system", data); err != nil {
		return RenderedPrompt{}, fmt.Errorf("rendering system prompt %s: %w", id, err)
	}
	if err := tmpl.ExecuteTemplate(&user, "user", data); err != nil {
		return RenderedPrompt{}, fmt.Errorf("rendering user prompt %s: %w", id, err)
	}

	return RenderedPrompt{
		ID:     id,
		System: strings.TrimSpace(system.String()),
		User:   strings.TrimSpace(user.String()),
	}, nil
}

// StagePromptID returns the id of the default structured prompt of a stage.
func StagePromptID(stage domain.Stage) string {
	return "default_" + string(stage)
}

// ClassReportPromptID is the prompt of the class performance report.
const ClassReportPromptID = "default_class_performance"

// NarrativePromptID returns the id of the narrative prompt of an analytical
// stage, or "" for extraction stages.
func NarrativePromptID(stage domain.Stage) string {
	if !stage.IsAnalytical() {
		return ""
	}
	return "internal_narrative_" + string(stage)
}
