// Package mocks provides centralized mock implementations for testing.
//
// Mocks expose function fields for every interface method. When a field is
// nil the mock falls back to a sensible default: MockProvider replays
// scripted outcomes, MockDocumentStore delegates to an in-memory store.
//
//	provider := &mocks.MockProvider{
//	    CompleteFn: func(ctx context.Context, req generation.Request) (*generation.Completion, error) {
//	        return &generation.Completion{Content: `{"questions": []}`}, nil
//	    },
//	}
//
// When adding a new mock to this package:
//  1. Create a new file named after the interface being mocked
//  2. Implement the mock struct with function fields for each interface method
//  3. Document any helper methods or special functionality
package mocks
