package hostfuncs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DatabaseBundle exposes db_execute, db_query, and db_query_row over
// one lapp's SQLite database. The pool is exclusive to a single module
// instance: it is opened by the loader when the Database permission is
// granted and closed when the instance is dropped.
type DatabaseBundle struct {
	pool *sqlitex.Pool
}

// NewDatabaseBundle opens the lapp's database at path, creating the
// file if it does not exist. PoolSize is 1 so guest database calls are
// serialized, matching SQLite's single-writer model.
func NewDatabaseBundle(path string) (*DatabaseBundle, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    1,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return &DatabaseBundle{pool: pool}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	conn.SetBusyTimeout(5 * time.Second)
	return sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys = ON;", nil)
}

// Handlers implements Bundle.
func (b *DatabaseBundle) Handlers() map[string]ByteHandler {
	return map[string]ByteHandler{
		"db_execute":   NewCodecHandler(b.execute),
		"db_query":     NewCodecHandler(b.query),
		"db_query_row": NewCodecHandler(b.queryRow),
	}
}

// Close releases the database pool.
func (b *DatabaseBundle) Close() error {
	return b.pool.Close()
}

func (b *DatabaseBundle) execute(ctx context.Context, req ExecuteRequest) ExecuteResponse {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return ExecuteResponse{Error: &ErrorDetail{Code: CodeDatabaseError, Message: err.Error()}}
	}
	defer b.pool.Put(conn)

	err = sqlitex.Execute(conn, req.SQL, &sqlitex.ExecOptions{
		Args: normalizeParams(req.Params),
	})
	if err != nil {
		return ExecuteResponse{Error: &ErrorDetail{Code: CodeDatabaseError, Message: err.Error()}}
	}
	return ExecuteResponse{RowsAffected: int64(conn.Changes())}
}

func (b *DatabaseBundle) query(ctx context.Context, req QueryRequest) QueryResponse {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return QueryResponse{Error: &ErrorDetail{Code: CodeDatabaseError, Message: err.Error()}}
	}
	defer b.pool.Put(conn)

	var resp QueryResponse
	err = sqlitex.Execute(conn, req.SQL, &sqlitex.ExecOptions{
		Args: normalizeParams(req.Params),
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if resp.Columns == nil {
				resp.Columns = columnNames(stmt)
			}
			resp.Rows = append(resp.Rows, rowValues(stmt))
			return nil
		},
	})
	if err != nil {
		return QueryResponse{Error: &ErrorDetail{Code: CodeDatabaseError, Message: err.Error()}}
	}
	return resp
}

// errStopIteration aborts row iteration after the first row.
var errStopIteration = errors.New("stop iteration")

func (b *DatabaseBundle) queryRow(ctx context.Context, req QueryRequest) QueryRowResponse {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return QueryRowResponse{Error: &ErrorDetail{Code: CodeDatabaseError, Message: err.Error()}}
	}
	defer b.pool.Put(conn)

	var resp QueryRowResponse
	err = sqlitex.Execute(conn, req.SQL, &sqlitex.ExecOptions{
		Args: normalizeParams(req.Params),
		ResultFunc: func(stmt *sqlite.Stmt) error {
			resp.Columns = columnNames(stmt)
			resp.Row = rowValues(stmt)
			resp.Found = true
			return errStopIteration
		},
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return QueryRowResponse{Error: &ErrorDetail{Code: CodeDatabaseError, Message: err.Error()}}
	}
	return resp
}

func columnNames(stmt *sqlite.Stmt) []string {
	names := make([]string, stmt.ColumnCount())
	for i := range names {
		names[i] = stmt.ColumnName(i)
	}
	return names
}

func rowValues(stmt *sqlite.Stmt) []any {
	row := make([]any, stmt.ColumnCount())
	for i := range row {
		switch stmt.ColumnType(i) {
		case sqlite.TypeInteger:
			row[i] = stmt.ColumnInt64(i)
		case sqlite.TypeFloat:
			row[i] = stmt.ColumnFloat(i)
		case sqlite.TypeText:
			row[i] = stmt.ColumnText(i)
		case sqlite.TypeBlob:
			buf := make([]byte, stmt.ColumnLen(i))
			stmt.ColumnBytes(i, buf)
			row[i] = buf
		default:
			row[i] = nil
		}
	}
	return row
}

// normalizeParams maps CBOR-decoded parameter values onto types the
// SQLite binder accepts. The decoder produces uint64 for positive
// integers; SQLite only stores signed 64-bit values.
func normalizeParams(params []any) []any {
	out := make([]any, len(params))
	for i, p := range params {
		switch v := p.(type) {
		case uint64:
			if v <= math.MaxInt64 {
				out[i] = int64(v)
			} else {
				out[i] = v
			}
		default:
			out[i] = p
		}
	}
	return out
}
