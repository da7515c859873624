package hostfuncs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/lapphost/lapphost/domain/entities"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultMaxBodySize = 10 * 1024 * 1024 // 10MB
)

// HTTPBundle exposes invoke_http bound to the shared outbound client
// and one lapp's network settings. The client is shared read-only
// across all lapps; per-request timeouts come from the request context,
// never from mutating the client.
type HTTPBundle struct {
	client   *http.Client
	settings entities.HTTPSettings
}

// NewHTTPBundle builds the invoke_http bundle. A nil client falls back
// to http.DefaultClient.
func NewHTTPBundle(client *http.Client, settings entities.HTTPSettings) *HTTPBundle {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBundle{client: client, settings: settings}
}

// Handlers implements Bundle.
func (b *HTTPBundle) Handlers() map[string]ByteHandler {
	return map[string]ByteHandler{
		"invoke_http": NewCodecHandler(b.invoke),
	}
}

func (b *HTTPBundle) invoke(ctx context.Context, req HTTPRequest) HTTPResponse {
	if req.URL == "" {
		return HTTPResponse{Error: &ErrorDetail{Code: CodeInvalidRequest, Message: "url is required"}}
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	timeout := defaultHTTPTimeout
	if b.settings.TimeoutMs > 0 {
		timeout = time.Duration(b.settings.TimeoutMs) * time.Millisecond
	}
	if req.TimeoutMs > 0 && time.Duration(req.TimeoutMs)*time.Millisecond < timeout {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), req.URL, body)
	if err != nil {
		return HTTPResponse{Error: &ErrorDetail{Code: CodeInvalidRequest, Message: err.Error()}}
	}

	if err := b.checkHost(httpReq.URL.Hostname()); err != nil {
		return HTTPResponse{Error: &ErrorDetail{Code: CodeHostNotAllowed, Message: err.Error()}}
	}

	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return HTTPResponse{Error: classifyHTTPError(ctx, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return b.readResponse(resp)
}

// checkHost matches the request hostname against the lapp's allowed
// host glob patterns. An empty pattern list allows any host.
func (b *HTTPBundle) checkHost(hostname string) error {
	if len(b.settings.AllowedHosts) == 0 {
		return nil
	}
	for _, pattern := range b.settings.AllowedHosts {
		if ok, err := doublestar.Match(pattern, hostname); err == nil && ok {
			return nil
		}
	}
	return fmt.Errorf("host %q does not match any allowed pattern", hostname)
}

func (b *HTTPBundle) readResponse(resp *http.Response) HTTPResponse {
	maxBody := int64(defaultMaxBodySize)
	if b.settings.MaxBodyBytes > 0 {
		maxBody = b.settings.MaxBodyBytes
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return HTTPResponse{
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			Error:      &ErrorDetail{Code: CodeReadBodyFailed, Message: err.Error()},
		}
	}

	truncated := false
	if int64(len(body)) > maxBody {
		body = body[:maxBody]
		truncated = true
	}

	return HTTPResponse{
		StatusCode:    resp.StatusCode,
		Headers:       resp.Header,
		Body:          body,
		BodyTruncated: truncated,
	}
}

func classifyHTTPError(ctx context.Context, err error) *ErrorDetail {
	code := CodeRequestFailed
	msg := err.Error()
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), strings.Contains(msg, "timeout"):
		code = CodeTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		code = CodeCanceled
	case strings.Contains(msg, "redirect"):
		code = CodeTooManyRedirects
	case strings.Contains(msg, "no such host"):
		code = CodeHostNotFound
	case strings.Contains(msg, "connection refused"):
		code = CodeConnectionRefused
	}
	return &ErrorDetail{Code: code, Message: msg}
}
