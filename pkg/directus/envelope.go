package directus

// Meta carries the pagination metadata the CMS attaches to list responses.
type Meta struct {
	TotalCount  *int `json:"total_count,omitempty"`
	FilterCount *int `json:"filter_count,omitempty"`
	Page        *int `json:"page,omitempty"`
	PageCount   *int `json:"page_count,omitempty"`
	Limit       *int `json:"limit,omitempty"`
	Offset      *int `json:"offset,omitempty"`
}

// ErrorExtensions is the machine-readable block attached to one upstream error.
type ErrorExtensions struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// APIError is one structured failure reported by the upstream API or
// synthesized locally when the upstream response could not be interpreted.
type APIError struct {
	Message    string          `json:"message"`
	Code       string          `json:"code"`
	Reason     string          `json:"reason"`
	Extensions ErrorExtensions `json:"extensions"`
}

// Envelope normalizes the outcome of one upstream call: optional payload,
// optional pagination metadata, the ordered error list, and the transport
// status code. It is constructed fresh per call and never mutated afterwards.
type Envelope[T any] struct {
	Data       *T
	Meta       *Meta
	Errors     []APIError
	StatusCode int
}

// IsSuccess reports whether the call produced no errors. Payload presence is
// not required for success; an empty-body 204 is a successful outcome.
func (envelope Envelope[T]) IsSuccess() bool {
	return len(envelope.Errors) == 0
}

// Message returns the first error message, or empty when the call succeeded.
func (envelope Envelope[T]) Message() string {
	if len(envelope.Errors) == 0 {
		return ""
	}
	return envelope.Errors[0].Message
}

// FirstErrorCode returns the first error code, or empty when the call succeeded.
func (envelope Envelope[T]) FirstErrorCode() string {
	if len(envelope.Errors) == 0 {
		return ""
	}
	return envelope.Errors[0].Code
}

// ErrorEnvelope builds an envelope holding a single locally synthesized error.
func ErrorEnvelope[T any](message string, code string, statusCode int) Envelope[T] {
	return Envelope[T]{
		StatusCode: statusCode,
		Errors: []APIError{
			{
				Message: message,
				Code:    code,
			},
		},
	}
}
