// Package hostfuncs implements the capability-gated host functions a
// lapp may import: database access, outbound HTTP, and sleep. Each
// function speaks the CBOR wire format defined here; the types must
// remain stable and backward compatible because they are the ABI
// contract lapp authors build against.
package hostfuncs

// ErrorDetail is the structured error carried inside wire responses.
// Host functions never trap the guest on host-side failure; they
// return a response with this field set.
type ErrorDetail struct {
	Code    string `cbor:"code"`
	Message string `cbor:"message"`
}

// Error implements the error interface.
func (e *ErrorDetail) Error() string {
	return e.Message
}

// Error codes used across host functions.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeDatabaseError     = "DATABASE_ERROR"
	CodeRequestFailed     = "REQUEST_FAILED"
	CodeTimeout           = "TIMEOUT"
	CodeHostNotAllowed    = "HOST_NOT_ALLOWED"
	CodeTooManyRedirects  = "TOO_MANY_REDIRECTS"
	CodeHostNotFound      = "HOST_NOT_FOUND"
	CodeConnectionRefused = "CONNECTION_REFUSED"
	CodeReadBodyFailed    = "READ_BODY_FAILED"
	CodeCanceled          = "CANCELED"
)

// LogRequest is the wire format for log_message. The guest fires and
// forgets; there is no response payload.
type LogRequest struct {
	Level   string            `cbor:"level"`
	Message string            `cbor:"message"`
	Attrs   map[string]string `cbor:"attrs,omitempty"`
}

// ExecuteRequest is the wire format for db_execute.
type ExecuteRequest struct {
	SQL    string `cbor:"sql"`
	Params []any  `cbor:"params,omitempty"`
}

// ExecuteResponse is the wire format for the db_execute result.
type ExecuteResponse struct {
	RowsAffected int64        `cbor:"rows_affected,omitempty"`
	Error        *ErrorDetail `cbor:"error,omitempty"`
}

// QueryRequest is the wire format for db_query and db_query_row.
type QueryRequest struct {
	SQL    string `cbor:"sql"`
	Params []any  `cbor:"params,omitempty"`
}

// QueryResponse is the wire format for the db_query result. Row values
// are int64, float64, string, []byte, or nil depending on the SQLite
// column type.
type QueryResponse struct {
	Columns []string     `cbor:"columns,omitempty"`
	Rows    [][]any      `cbor:"rows,omitempty"`
	Error   *ErrorDetail `cbor:"error,omitempty"`
}

// QueryRowResponse is the wire format for the db_query_row result.
// Found is false when the query matched no rows.
type QueryRowResponse struct {
	Columns []string     `cbor:"columns,omitempty"`
	Row     []any        `cbor:"row,omitempty"`
	Found   bool         `cbor:"found"`
	Error   *ErrorDetail `cbor:"error,omitempty"`
}

// HTTPRequest is the wire format for invoke_http.
type HTTPRequest struct {
	Method    string              `cbor:"method"`
	URL       string              `cbor:"url"`
	Headers   map[string][]string `cbor:"headers,omitempty"`
	Body      []byte              `cbor:"body,omitempty"`
	TimeoutMs int                 `cbor:"timeout_ms,omitempty"`
}

// HTTPResponse is the wire format for the invoke_http result.
type HTTPResponse struct {
	StatusCode    int                 `cbor:"status_code,omitempty"`
	Headers       map[string][]string `cbor:"headers,omitempty"`
	Body          []byte              `cbor:"body,omitempty"`
	BodyTruncated bool                `cbor:"body_truncated,omitempty"`
	Error         *ErrorDetail        `cbor:"error,omitempty"`
}

// SleepRequest is the wire format for invoke_sleep.
type SleepRequest struct {
	DurationMs uint64 `cbor:"duration_ms"`
}

// SleepResponse is the wire format for the invoke_sleep result.
type SleepResponse struct {
	SleptMs uint64       `cbor:"slept_ms"`
	Error   *ErrorDetail `cbor:"error,omitempty"`
}
