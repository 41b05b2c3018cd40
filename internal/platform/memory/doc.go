// Package memory provides in-process implementations of the store
// interfaces. They back the server when no database URL is configured and
// serve as fakes in tests of the pipeline and API layers.
package memory
