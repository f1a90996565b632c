package model

import "encoding/json"

// Envelope is the body shape of every /api response.
// Result is kept raw so callers decode it into the type they expect.
type Envelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error"`
}

// ErrorBody carries an application-level failure
type ErrorBody struct {
	Message string `json:"message"`
}

// APIError is an application-level failure reported inside an otherwise
// successful transport response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}
