package analysis

import "errors"

// ErrInvalidModelOutput indicates the model responded but the response did not
// parse or did not conform to the result schema. Never coerced or clamped.
var ErrInvalidModelOutput = errors.New("invalid model output")

// ErrModelCallFailed indicates the model capability itself failed (network,
// quota, provider error).
var ErrModelCallFailed = errors.New("model call failed")

// ErrExtractionUnavailable indicates both the primary and the fallback text
// extraction paths failed for the document.
var ErrExtractionUnavailable = errors.New("pdf text extraction unavailable")
