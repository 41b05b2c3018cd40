// Package pipeline orchestrates the six grading stages for the students of
// an activity.
//
// Every run walks the stages in a fixed order per student:
//
//	extract_questions → extract_gabarito → extract_answers → grade → analyze_skills → generate_report
//
// The first two stages read activity-level documents and are computed at
// most once per run; the rest are per student. Each stage is dispatched
// through a strategy table, checks its inputs before any AI call, persists
// a versioned document, and reports its transitions to the task registry
// and the event emitter. Analytical stages additionally render a narrative
// PDF. The first failed stage of a student halts that student and produces
// an error report document, while other students continue.
//
// Service is the entry point used by the HTTP layer: it validates a run
// request, registers the task, and submits the run to the background task
// runner.
package pipeline
