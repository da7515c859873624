// Package sdk is the guest-side library lapp authors build against.
// It exports the allocator and lifecycle functions the host expects,
// and wraps the capability-gated host functions (database, HTTP,
// sleep) behind typed Go APIs. Compile lapps with GOOS=wasip1
// GOARCH=wasm.
package sdk

// ErrorDetail is the structured error host functions return inside
// their responses. The codes mirror the host's wire contract.
type ErrorDetail struct {
	Code    string `cbor:"code"`
	Message string `cbor:"message"`
}

func (e *ErrorDetail) Error() string {
	return e.Message
}

// Error codes a host function response may carry.
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

type executeRequest struct {
	SQL    string `cbor:"sql"`
	Params []any  `cbor:"params,omitempty"`
}

type executeResponse struct {
	RowsAffected int64        `cbor:"rows_affected,omitempty"`
	Error        *ErrorDetail `cbor:"error,omitempty"`
}

type queryRequest struct {
	SQL    string `cbor:"sql"`
	Params []any  `cbor:"params,omitempty"`
}

// Rows is one db_query result set. Values are int64, float64, string,
// []byte, or nil depending on the column type.
type Rows struct {
	Columns []string
	Rows    [][]any
}

type queryResponse struct {
	Columns []string     `cbor:"columns,omitempty"`
	Rows    [][]any      `cbor:"rows,omitempty"`
	Error   *ErrorDetail `cbor:"error,omitempty"`
}

type queryRowResponse struct {
	Columns []string     `cbor:"columns,omitempty"`
	Row     []any        `cbor:"row,omitempty"`
	Found   bool         `cbor:"found"`
	Error   *ErrorDetail `cbor:"error,omitempty"`
}

// HTTPRequest describes one outbound request made through the host.
type HTTPRequest struct {
	Method    string              `cbor:"method"`
	URL       string              `cbor:"url"`
	Headers   map[string][]string `cbor:"headers,omitempty"`
	Body      []byte              `cbor:"body,omitempty"`
	TimeoutMs int                 `cbor:"timeout_ms,omitempty"`
}

// HTTPResponse is the host's answer to an HTTPRequest. Error is set
// when the request failed host-side; transport-level failures never
// trap the guest.
type HTTPResponse struct {
	StatusCode    int                 `cbor:"status_code,omitempty"`
	Headers       map[string][]string `cbor:"headers,omitempty"`
	Body          []byte              `cbor:"body,omitempty"`
	BodyTruncated bool                `cbor:"body_truncated,omitempty"`
	Error         *ErrorDetail        `cbor:"error,omitempty"`
}

type sleepRequest struct {
	DurationMs uint64 `cbor:"duration_ms"`
}

type sleepResponse struct {
	SleptMs uint64       `cbor:"slept_ms"`
	Error   *ErrorDetail `cbor:"error,omitempty"`
}

type initResult struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
}
