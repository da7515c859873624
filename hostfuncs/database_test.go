package hostfuncs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lapphost/lapphost/codec"
)

type DatabaseBundleSuite struct {
	suite.Suite
	bundle *DatabaseBundle
	ctx    context.Context
}

func (s *DatabaseBundleSuite) SetupTest() {
	bundle, err := NewDatabaseBundle(filepath.Join(s.T().TempDir(), "data.db"))
	s.Require().NoError(err)
	s.bundle = bundle
	s.ctx = context.Background()

	resp := s.bundle.execute(s.ctx, ExecuteRequest{
		SQL: "CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT, score REAL, raw BLOB)",
	})
	s.Require().Nil(resp.Error)
}

func (s *DatabaseBundleSuite) TearDownTest() {
	s.Require().NoError(s.bundle.Close())
}

func (s *DatabaseBundleSuite) TestExecuteReportsRowsAffected() {
	resp := s.bundle.execute(s.ctx, ExecuteRequest{
		SQL:    "INSERT INTO notes (body, score, raw) VALUES (?, ?, ?)",
		Params: []any{"hello", 1.5, []byte{0xde, 0xad}},
	})
	s.Require().Nil(resp.Error)
	s.Equal(int64(1), resp.RowsAffected)
}

func (s *DatabaseBundleSuite) TestQueryTypedColumns() {
	s.bundle.execute(s.ctx, ExecuteRequest{
		SQL:    "INSERT INTO notes (body, score, raw) VALUES (?, ?, ?)",
		Params: []any{"hello", 1.5, []byte{0xde, 0xad}},
	})
	s.bundle.execute(s.ctx, ExecuteRequest{
		SQL: "INSERT INTO notes (body) VALUES ('second')",
	})

	resp := s.bundle.query(s.ctx, QueryRequest{SQL: "SELECT id, body, score, raw FROM notes ORDER BY id"})
	s.Require().Nil(resp.Error)
	s.Equal([]string{"id", "body", "score", "raw"}, resp.Columns)
	s.Require().Len(resp.Rows, 2)

	s.Equal(int64(1), resp.Rows[0][0])
	s.Equal("hello", resp.Rows[0][1])
	s.Equal(1.5, resp.Rows[0][2])
	s.Equal([]byte{0xde, 0xad}, resp.Rows[0][3])

	// NULL columns come back as nil.
	s.Nil(resp.Rows[1][2])
	s.Nil(resp.Rows[1][3])
}

func (s *DatabaseBundleSuite) TestQueryRowStopsAfterFirst() {
	for _, body := range []string{"a", "b", "c"} {
		s.bundle.execute(s.ctx, ExecuteRequest{SQL: "INSERT INTO notes (body) VALUES (?)", Params: []any{body}})
	}

	resp := s.bundle.queryRow(s.ctx, QueryRequest{SQL: "SELECT body FROM notes ORDER BY id"})
	s.Require().Nil(resp.Error)
	s.True(resp.Found)
	s.Equal([]any{"a"}, resp.Row)
}

func (s *DatabaseBundleSuite) TestQueryRowNoMatch() {
	resp := s.bundle.queryRow(s.ctx, QueryRequest{SQL: "SELECT body FROM notes WHERE id = 999"})
	s.Require().Nil(resp.Error)
	s.False(resp.Found)
	s.Nil(resp.Row)
}

func (s *DatabaseBundleSuite) TestSQLErrorIsWireError() {
	resp := s.bundle.query(s.ctx, QueryRequest{SQL: "SELECT * FROM missing_table"})
	s.Require().NotNil(resp.Error)
	s.Equal(CodeDatabaseError, resp.Error.Code)
}

func (s *DatabaseBundleSuite) TestHandlerWirePath() {
	handler := s.bundle.Handlers()["db_execute"]
	s.Require().NotNil(handler)

	payload, err := codec.Marshal(ExecuteRequest{
		SQL:    "INSERT INTO notes (body) VALUES (?)",
		Params: []any{"via wire"},
	})
	s.Require().NoError(err)

	out, err := handler(s.ctx, payload)
	s.Require().NoError(err)

	var resp ExecuteResponse
	s.Require().NoError(codec.Unmarshal(out, &resp))
	s.Nil(resp.Error)
	s.Equal(int64(1), resp.RowsAffected)
}

func TestDatabaseBundleSuite(t *testing.T) {
	suite.Run(t, new(DatabaseBundleSuite))
}

func TestNormalizeParams(t *testing.T) {
	out := normalizeParams([]any{uint64(7), "x", int64(-1), nil})
	require.Equal(t, []any{int64(7), "x", int64(-1), nil}, out)
}
