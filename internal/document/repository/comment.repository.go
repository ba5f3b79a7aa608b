package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"colladoc/internal/document/model"
	"colladoc/pkg/apperror"
	"colladoc/pkg/logger"

	"github.com/google/uuid"
)

var errCommentNotFound = apperror.NotFound("comment not found")

type CommentRepository struct {
	DB *sql.DB
}

func NewCommentRepository(db *sql.DB) *CommentRepository {
	return &CommentRepository{DB: db}
}

func (r *CommentRepository) AddComment(ctx context.Context, docID, userID, content, quote string, textRange json.RawMessage) (string, time.Time, error) {
	commentID := uuid.NewString()
	var rangeArg any
	if len(textRange) > 0 {
		rangeArg = []byte(textRange)
	}
	var createdAt time.Time
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO comments (id, document_id, user_id, content, quote, text_range, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at`,
		commentID, docID, userID, content, quote, rangeArg,
	).Scan(&createdAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to add comment to doc %s: %v", docID, err)
		return "", time.Time{}, apperror.Storage(err)
	}
	return commentID, createdAt, nil
}

func (r *CommentRepository) GetComments(ctx context.Context, docID string) ([]model.CommentResponse, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, document_id, user_id, content, quote, text_range, created_at, is_resolved
		FROM comments WHERE document_id = $1 ORDER BY created_at ASC`, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to get comments for doc %s: %v", docID, err)
		return nil, apperror.Storage(err)
	}
	defer rows.Close()

	comments := make([]model.CommentResponse, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, apperror.Storage(err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Storage(err)
	}
	return comments, nil
}

func (r *CommentRepository) GetComment(ctx context.Context, commentID string) (model.CommentResponse, error) {
	c, err := scanComment(r.DB.QueryRowContext(ctx, `
		SELECT id, document_id, user_id, content, quote, text_range, created_at, is_resolved
		FROM comments WHERE id = $1`, commentID))
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to get comment %s: %v", commentID, err)
	}
	return c, classify(err, errCommentNotFound)
}

// ToggleResolved flips the resolved flag and returns the new value.
func (r *CommentRepository) ToggleResolved(ctx context.Context, commentID string) (bool, error) {
	var resolved bool
	err := r.DB.QueryRowContext(ctx, `
		UPDATE comments SET is_resolved = NOT is_resolved
		WHERE id = $1
		RETURNING is_resolved`, commentID).Scan(&resolved)
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to resolve comment %s: %v", commentID, err)
	}
	return resolved, classify(err, errCommentNotFound)
}

func (r *CommentRepository) DeleteComment(ctx context.Context, commentID string) error {
	result, err := r.DB.ExecContext(ctx, "DELETE FROM comments WHERE id = $1", commentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete comment %s: %v", commentID, err)
		return apperror.Storage(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errCommentNotFound
	}
	return nil
}

func scanComment(row interface{ Scan(...any) error }) (model.CommentResponse, error) {
	var c model.CommentResponse
	var textRange []byte
	err := row.Scan(&c.ID, &c.DocID, &c.UserID, &c.Content, &c.Quote, &textRange, &c.CreatedAt, &c.Resolved)
	if len(textRange) > 0 {
		c.TextRange = json.RawMessage(textRange)
	}
	return c, err
}
