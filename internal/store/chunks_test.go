package store

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/chunk"
)

func seedChunkStore(t *testing.T, s *SQLChunkStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveParents(ctx, []*chunk.ParentChunk{
		{ID: "p1", DocumentID: "d1", Text: "parent one"},
		{ID: "p2", DocumentID: "d2", Text: "parent two", Ordinal: 1},
	}))
	require.NoError(t, s.SaveChildren(ctx, []*chunk.ChildChunk{
		{ID: "c1", ParentChunkID: "p1", DocumentID: "d1", Text: "one", Keywords: []string{"k"}},
		{ID: "c2", ParentChunkID: "p1", DocumentID: "d1", Text: "two"},
		{ID: "c3", ParentChunkID: "p2", DocumentID: "d2", Text: "three"},
	}))
}

func TestSQLChunkStore_SQLite(t *testing.T) {
	ctx := context.Background()
	for _, dsn := range []string{"", filepath.Join(t.TempDir(), "chunks.db")} {
		t.Run(fmt.Sprintf("dsn=%q", dsn), func(t *testing.T) {
			s, err := OpenChunkStore(ctx, DriverSQLite, dsn)
			require.NoError(t, err)
			defer func() { _ = s.Close() }()
			seedChunkStore(t, s)

			// When: looking up known, duplicate and unknown children
			parents, err := s.ParentIDs(ctx, []string{"c1", "c3", "c1", "missing"})

			// Then: unknown ids are simply absent
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"c1": "p1", "c3": "p2"}, parents)

			bodies, err := s.Parents(ctx, []string{"p2", "p1", "nope"})
			require.NoError(t, err)
			require.Len(t, bodies, 2)
			assert.Equal(t, "parent two", bodies["p2"].Text)
			assert.Equal(t, "d2", bodies["p2"].DocumentID)
			assert.Equal(t, 1, bodies["p2"].Ordinal)

			np, nc, err := s.Counts(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, np)
			assert.Equal(t, 3, nc)
		})
	}
}

func TestSQLChunkStore_UpsertAndEmptyLookups(t *testing.T) {
	ctx := context.Background()
	s, err := OpenChunkStore(ctx, "", "")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	seedChunkStore(t, s)

	// When: re-saving p1 and moving c2 to p2
	require.NoError(t, s.SaveParents(ctx, []*chunk.ParentChunk{{ID: "p1", Text: "rewritten"}}))
	require.NoError(t, s.SaveChildren(ctx, []*chunk.ChildChunk{{ID: "c2", ParentChunkID: "p2", Text: "two"}}))

	// Then: rows are replaced, not duplicated
	bodies, err := s.Parents(ctx, []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, "rewritten", bodies["p1"].Text)
	ids, err := s.ParentIDs(ctx, []string{"c2"})
	require.NoError(t, err)
	assert.Equal(t, "p2", ids["c2"])

	empty, err := s.ParentIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NoError(t, s.SaveParents(ctx, nil))
}

func TestSQLChunkStore_ManyIDsAreBatched(t *testing.T) {
	ctx := context.Background()
	s, err := OpenChunkStore(ctx, DriverSQLite, "")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	children := make([]*chunk.ChildChunk, 0, 1200)
	ids := make([]string, 0, 1200)
	for i := 0; i < 1200; i++ {
		id := fmt.Sprintf("c%04d", i)
		children = append(children, &chunk.ChildChunk{ID: id, ParentChunkID: "p", Text: "t"})
		ids = append(ids, id)
	}
	require.NoError(t, s.SaveChildren(ctx, children))

	got, err := s.ParentIDs(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, got, 1200)
}

func TestOpenChunkStore_UnknownDriver(t *testing.T) {
	_, err := OpenChunkStore(context.Background(), "oracle", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available")
}

func TestSQLChunkStore_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := NewSQLChunkStore(db, DriverPostgres)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, parent_chunk_id FROM child_chunks WHERE id IN ($1, $2)`)).
		WithArgs("c1", "c2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "parent_chunk_id"}).AddRow("c1", "p1"))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, document_id, text, ordinal FROM parent_chunks WHERE id IN ($1)`)).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "text", "ordinal"}).AddRow("p1", "d1", "body", 0))

	ids, err := s.ParentIDs(context.Background(), []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"c1": "p1"}, ids)

	parents, err := s.Parents(context.Background(), []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, "body", parents["p1"].Text)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLChunkStore_PostgresSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := NewSQLChunkStore(db, DriverPostgres)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO child_chunks").
		ExpectExec().
		WithArgs("c1", "p1", "d1", "text", "sum", `["a","b"]`, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = s.SaveChildren(context.Background(), []*chunk.ChildChunk{{
		ID: "c1", ParentChunkID: "p1", DocumentID: "d1", Text: "text", Summary: "sum",
		Keywords: []string{"a", "b"}, Ordinal: 2,
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLChunkStore_QueryErrorIsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := NewSQLChunkStore(db, DriverPostgres)

	mock.ExpectQuery("SELECT id, parent_chunk_id").WillReturnError(fmt.Errorf("connection reset"))

	_, err = s.ParentIDs(context.Background(), []string{"c1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup parent ids")
}
