package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"colladoc/pkg/apperror"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddCommentStoresRange(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO comments").
		WithArgs(sqlmock.AnyArg(), "d1", "bob", "typo here", "teh", []byte(`{"index":4,"length":3}`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	id, createdAt, err := NewCommentRepository(db).AddComment(context.Background(), "d1", "bob", "typo here", "teh", json.RawMessage(`{"index":4,"length":3}`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, now, createdAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestToggleResolvedMissingComment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("UPDATE comments SET is_resolved = NOT is_resolved").
		WithArgs("x").
		WillReturnRows(sqlmock.NewRows([]string{"is_resolved"}))

	_, err = NewCommentRepository(db).ToggleResolved(context.Background(), "x")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestGetCommentsOrdersByCreation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("FROM comments WHERE document_id = \\$1 ORDER BY created_at ASC").
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "user_id", "content", "quote", "text_range", "created_at", "is_resolved"}).
			AddRow("k1", "d1", "bob", "first", "", nil, now, false).
			AddRow("k2", "d1", "alice", "second", "q", []byte(`{"index":1,"length":2}`), now, true))

	comments, err := NewCommentRepository(db).GetComments(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Nil(t, comments[0].TextRange)
	assert.JSONEq(t, `{"index":1,"length":2}`, string(comments[1].TextRange))
}
