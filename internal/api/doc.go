// Package api handles incoming HTTP requests, request validation, and
// response formatting. Handlers translate HTTP concerns into calls on the
// pipeline service and the document store; routing lives in cmd/server.
package api
