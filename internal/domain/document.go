package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocumentType tags what a VersionedDocument contains.
type DocumentType string

// Uploaded source documents. These are provided by the surrounding system
// and only read by the pipeline.
const (
	DocumentExamStatement     DocumentType = "exam_statement"
	DocumentAnswerKey         DocumentType = "answer_key"
	DocumentStudentSubmission DocumentType = "student_submission"
)

// Documents produced by the pipeline.
const (
	DocumentQuestions           DocumentType = "questions"
	DocumentAnswerKeyExtraction DocumentType = "answer_key_extraction"
	DocumentStudentAnswers      DocumentType = "student_answers"
	DocumentGrading             DocumentType = "grading"
	DocumentSkillsAnalysis      DocumentType = "skills_analysis"
	DocumentFinalReport         DocumentType = "final_report"
	DocumentGradingNarrative    DocumentType = "grading_narrative"
	DocumentSkillsNarrative     DocumentType = "skills_narrative"
	DocumentReportNarrative     DocumentType = "report_narrative"
	DocumentErrorReport         DocumentType = "error_report"

	// DocumentClassPerformance is the activity-wide synthesis of every
	// student's final report.
	DocumentClassPerformance DocumentType = "class_performance_report"
)

// Content types used for pipeline documents.
const (
	ContentTypeJSON = "application/json"
	ContentTypePDF  = "application/pdf"
)

var knownDocumentTypes = map[DocumentType]bool{
	DocumentExamStatement:       true,
	DocumentAnswerKey:           true,
	DocumentStudentSubmission:   true,
	DocumentQuestions:           true,
	DocumentAnswerKeyExtraction: true,
	DocumentStudentAnswers:      true,
	DocumentGrading:             true,
	DocumentSkillsAnalysis:      true,
	DocumentFinalReport:         true,
	DocumentGradingNarrative:    true,
	DocumentSkillsNarrative:     true,
	DocumentReportNarrative:     true,
	DocumentErrorReport:         true,
	DocumentClassPerformance:    true,
}

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	return knownDocumentTypes[t]
}

// IsActivityLevel reports whether documents of this type belong to the
// activity rather than to one student.
func (t DocumentType) IsActivityLevel() bool {
	switch t {
	case DocumentExamStatement, DocumentAnswerKey, DocumentQuestions, DocumentAnswerKeyExtraction,
		DocumentClassPerformance:
		return true
	default:
		return false
	}
}

// Provenance records which AI call produced a document.
type Provenance struct {
	Provider         string     `json:"provider,omitempty"`
	Model            string     `json:"model,omitempty"`
	PromptID         string     `json:"prompt_id,omitempty"`
	SourceDocumentID *uuid.UUID `json:"source_document_id,omitempty"`
}

// Document is an immutable, numbered artifact. Version is assigned by the
// store and increases monotonically per (activity, student, type).
type Document struct {
	ID          uuid.UUID      `json:"id"`
	Type        DocumentType   `json:"type"`
	ActivityID  string         `json:"activity_id"`
	StudentID   string         `json:"student_id,omitempty"`
	Stage       Stage          `json:"stage,omitempty"`
	Version     int            `json:"version"`
	ContentType string         `json:"content_type"`
	Filename    string         `json:"filename,omitempty"`
	Content     []byte         `json:"-"`
	Provenance  Provenance     `json:"provenance"`
	Error       *ErrorEnvelope `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewDocument builds an unsaved document with a fresh id. Activity-level
// types drop the student id so every student shares one version chain.
func NewDocument(
	docType DocumentType,
	activityID string,
	studentID string,
	contentType string,
	content []byte,
) (*Document, error) {
	if docType.IsActivityLevel() {
		studentID = ""
	}
	doc := &Document{
		ID:          uuid.New(),
		Type:        docType,
		ActivityID:  activityID,
		StudentID:   studentID,
		ContentType: contentType,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}

	return doc, nil
}

// Validate checks if the Document has valid data.
func (d *Document) Validate() error {
	if !d.Type.Valid() {
		return ErrInvalidDocumentType
	}

	if d.ActivityID == "" {
		return ErrEmptyActivityID
	}

	if !d.Type.IsActivityLevel() && d.StudentID == "" {
		return ErrEmptyStudentID
	}

	if len(d.Content) == 0 {
		return ErrEmptyContent
	}

	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.Content != nil {
		c.Content = append([]byte(nil), d.Content...)
	}
	if d.Provenance.SourceDocumentID != nil {
		id := *d.Provenance.SourceDocumentID
		c.Provenance.SourceDocumentID = &id
	}
	c.Error = d.Error.Clone()
	return &c
}

// Key returns the version-chain key of the document.
func (d *Document) Key() DocumentKey {
	return DocumentKey{ActivityID: d.ActivityID, StudentID: d.StudentID, Type: d.Type}
}

// DocumentKey identifies one version chain.
type DocumentKey struct {
	ActivityID string
	StudentID  string
	Type       DocumentType
}

// KeyFor builds the chain key for a type, dropping the student id for
// activity-level types.
func KeyFor(docType DocumentType, activityID, studentID string) DocumentKey {
	if docType.IsActivityLevel() {
		studentID = ""
	}
	return DocumentKey{ActivityID: activityID, StudentID: studentID, Type: docType}
}
