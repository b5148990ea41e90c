package rpc

import (
	"errors"

	"github.com/quillmind/memoryd/internal/errs"
)

// userFacingMessage renders an error as the short, secret-free text
// spec.md §7 requires inside tool results ("Memory not found", "Semantic
// search unavailable; text matches only") — never a stack trace or
// another user's data.
func userFacingMessage(err error) string {
	var notFound *errs.NotFoundError
	var validation *errs.ValidationError
	var conflict *errs.ConflictError
	var rateLimited *errs.RateLimitedError
	var transient *errs.TransientError
	var permanent *errs.PermanentError

	switch {
	case errors.As(err, &notFound):
		return notFound.Resource + " not found"
	case errors.As(err, &validation):
		return "Invalid request: " + validation.Error()
	case errors.As(err, &conflict):
		return "Conflict: " + conflict.Error()
	case errors.As(err, &rateLimited):
		return "Embedding provider rate limited this request; try again shortly"
	case errors.As(err, &transient):
		return "Semantic search unavailable; text matches only"
	case errors.As(err, &permanent):
		return "Request could not be completed: " + permanent.Error()
	default:
		return "Internal error"
	}
}
