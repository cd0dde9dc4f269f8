package commsutil

// Request is the JSON envelope sent to a service subject for one call attempt.
type Request struct {
	ID      string `json:"id"`
	Service string `json:"service"`
	Method  string `json:"method"`
	Mode    string `json:"mode"`
	// Caller is the textual principal of the calling identity.
	Caller string `json:"caller,omitempty"`
	// Args is the encoded argument tuple (base64 in JSON).
	Args    []byte `json:"args"`
	Attempt int    `json:"attempt,omitempty"`
	// Meta carries trace propagation headers.
	Meta       map[string]string `json:"meta,omitempty"`
	DeadlineMs int64             `json:"deadlineMs,omitempty"`
}

// Response is the JSON envelope returned by a service host.
type Response struct {
	ID     string       `json:"id"`
	Ok     bool         `json:"ok"`
	Result []byte       `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

// OkResponse builds a successful Response.
func OkResponse(id string, result []byte) *Response {
	return &Response{ID: id, Ok: true, Result: result}
}

// ErrorResponse builds a failed Response.
func ErrorResponse(id, code, message string, retryable bool) *Response {
	return &Response{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}
