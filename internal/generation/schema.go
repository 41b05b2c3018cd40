package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/gradeflow/internal/domain"
)

var schemaValidator = newSchemaValidator()

// newSchemaValidator reports fields by their JSON names.
func newSchemaValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Payload shapes each stage must produce. Only the fields later stages and
// reports depend on are required; anything else the model adds is kept in
// the stored document untouched. Item arrays may be empty here, since an
// empty extraction is caught by the next stage's pre-flight.
type (
	questionsPayload struct {
		Questions []questionItem `json:"questions" validate:"required,dive"`
	}
	questionItem struct {
		Number float64 `json:"number" validate:"gte=1"`
	}

	answerKeyPayload struct {
		Answers []answerKeyItem `json:"answers" validate:"required,dive"`
	}
	answerKeyItem struct {
		QuestionNumber float64 `json:"question_number" validate:"gte=1"`
	}

	studentAnswersPayload struct {
		Answers []studentAnswerItem `json:"answers" validate:"required,dive"`
	}
	studentAnswerItem struct {
		QuestionNumber float64 `json:"question_number" validate:"gte=1"`
	}

	gradingPayload struct {
		Questions  []gradedQuestion `json:"questions" validate:"required,min=1,dive"`
		TotalScore *float64         `json:"total_score" validate:"required"`
	}
	gradedQuestion struct {
		QuestionNumber float64  `json:"question_number" validate:"gte=1"`
		Score          *float64 `json:"score" validate:"required"`
	}

	skillsPayload struct {
		Skills any `json:"skills" validate:"required"`
	}

	reportPayload struct {
		Content          string `json:"content" validate:"required_without_all=Summary ExecutiveSummary"`
		Summary          string `json:"summary"`
		ExecutiveSummary string `json:"executive_summary"`
	}
)

func payloadFor(stage domain.Stage) any {
	switch stage {
	case domain.StageExtractQuestions:
		return &questionsPayload{}
	case domain.StageExtractGabarito:
		return &answerKeyPayload{}
	case domain.StageExtractAnswers:
		return &studentAnswersPayload{}
	case domain.StageGrade:
		return &gradingPayload{}
	case domain.StageAnalyzeSkills:
		return &skillsPayload{}
	case domain.StageGenerateReport:
		return &reportPayload{}
	default:
		return nil
	}
}

// ValidateStagePayload checks a parsed model response against the shape the
// stage must produce. A mismatch is a *ParseError of kind KindInvalidSchema
// naming the offending fields.
func ValidateStagePayload(stage domain.Stage, parsed any) error {
	target := payloadFor(stage)
	if target == nil {
		return fmt.Errorf("%w: %q", domain.ErrUnknownStage, stage)
	}

	raw, err := json.Marshal(parsed)
	if err != nil {
		return &ParseError{Kind: domain.KindInvalidSchema, Err: err}
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return &ParseError{Kind: domain.KindInvalidSchema, Err: schemaTypeError(err)}
	}

	if err := schemaValidator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return &ParseError{Kind: domain.KindInvalidSchema, Err: describeFieldErrors(verrs)}
		}
		return &ParseError{Kind: domain.KindInvalidSchema, Err: err}
	}
	return nil
}

func schemaTypeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Errorf("field %s has type %s, want %s", typeErr.Field, typeErr.Value, typeErr.Type)
	}
	return err
}

func describeFieldErrors(verrs validator.ValidationErrors) error {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace reads "<payload type>.<json path>".
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		parts = append(parts, fmt.Sprintf("%s failed %s", path, fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
