//go:build wasip1

package sdk

import (
	"errors"
	"fmt"
	"time"

	"github.com/lapphost/lapphost/sdk/internal/abi"
)

// Imported host functions. The host registers each one only when the
// matching permission is granted, and the linker keeps an import only
// when the lapp actually calls its wrapper — so a lapp using a wrapper
// for an ungranted capability fails at load time, not mid-request.

//go:wasmimport env db_execute
func hostDBExecute(packed uint64) uint64

//go:wasmimport env db_query
func hostDBQuery(packed uint64) uint64

//go:wasmimport env db_query_row
func hostDBQueryRow(packed uint64) uint64

//go:wasmimport env invoke_http
func hostInvokeHTTP(packed uint64) uint64

//go:wasmimport env invoke_sleep
func hostInvokeSleep(packed uint64) uint64

// callHost marshals req, hands it across the boundary, and decodes the
// response. Request memory is guest-owned and freed after the call;
// response memory is allocated by the host through the guest allocator
// and freed once decoded.
func callHost[Req, Resp any](fn func(uint64) uint64, req Req) (*Resp, error) {
	payload, err := marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode host call request: %w", err)
	}

	in := abi.PtrFromBytes(payload)
	out := fn(in)
	abi.FreePacked(in)
	if out == 0 {
		return nil, errors.New("host returned no payload")
	}

	data := abi.BytesFromPtr(out)
	abi.FreePacked(out)

	resp := new(Resp)
	if err := unmarshal(data, resp); err != nil {
		return nil, fmt.Errorf("decode host call response: %w", err)
	}
	return resp, nil
}

// Execute runs one SQL statement against the lapp's database and
// returns the number of rows affected. Requires the database
// permission.
func Execute(sql string, params ...any) (int64, error) {
	// wasmimport functions cannot be used as values; wrap in a closure.
	fn := func(p uint64) uint64 { return hostDBExecute(p) }
	resp, err := callHost[executeRequest, executeResponse](fn, executeRequest{SQL: sql, Params: params})
	if err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, resp.Error
	}
	return resp.RowsAffected, nil
}

// Query runs one SQL query and returns every matching row. Requires
// the database permission.
func Query(sql string, params ...any) (*Rows, error) {
	fn := func(p uint64) uint64 { return hostDBQuery(p) }
	resp, err := callHost[queryRequest, queryResponse](fn, queryRequest{SQL: sql, Params: params})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return &Rows{Columns: resp.Columns, Rows: resp.Rows}, nil
}

// QueryRow runs one SQL query and returns the first matching row, or
// found=false when nothing matched. Requires the database permission.
func QueryRow(sql string, params ...any) (row []any, found bool, err error) {
	fn := func(p uint64) uint64 { return hostDBQueryRow(p) }
	resp, err := callHost[queryRequest, queryRowResponse](fn, queryRequest{SQL: sql, Params: params})
	if err != nil {
		return nil, false, err
	}
	if resp.Error != nil {
		return nil, false, resp.Error
	}
	return resp.Row, resp.Found, nil
}

// InvokeHTTP performs one outbound HTTP request through the host.
// Requires the http permission; the host enforces the lapp's
// allowed-host patterns and body limits.
func InvokeHTTP(req HTTPRequest) (*HTTPResponse, error) {
	fn := func(p uint64) uint64 { return hostInvokeHTTP(p) }
	resp, err := callHost[HTTPRequest, HTTPResponse](fn, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}

// Sleep suspends the lapp host-side for the given duration and returns
// the time actually slept. Requires the sleep permission.
func Sleep(d time.Duration) (time.Duration, error) {
	fn := func(p uint64) uint64 { return hostInvokeSleep(p) }
	resp, err := callHost[sleepRequest, sleepResponse](fn, sleepRequest{DurationMs: uint64(d.Milliseconds())})
	if err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, resp.Error
	}
	return time.Duration(resp.SleptMs) * time.Millisecond, nil
}
