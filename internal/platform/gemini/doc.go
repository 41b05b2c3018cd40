// Package gemini adapts Google's Gemini API to the generation.Provider
// interface.
//
// The adapter sends one request per call and reports the outcome without
// retrying; backoff belongs to generation.RetryingClient. API failures are
// translated into *generation.ProviderError carrying the HTTP status and,
// when the server sends one, the RetryInfo delay as a retry-after hint.
// Responses blocked by safety filters fail with generation.ErrContentBlocked
// and no status, which the retrying client never retries.
package gemini
