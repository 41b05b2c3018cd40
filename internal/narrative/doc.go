// Package narrative turns the validated structured output of an analytical
// stage into a rendered PDF. It runs a second, independent AI call asking
// for Markdown prose; when that call fails or returns something other than
// prose, it renders the structured output directly so a readable document
// always exists.
package narrative
