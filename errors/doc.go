// Package errors provides unified error handling for the dataset graph.
// It implements structured error types with machine-readable codes,
// retryable detection, and cause chaining compatible with errors.Is/As.
//
// Engines return coded errors (NOT_FOUND, APPEND_OVERLAP, CONFLICT,
// TRANSIENT); construction and scheduling report their own codes.
// Retries are the caller's responsibility; IsRetryable tells it whether
// a retry can help.
package errors
