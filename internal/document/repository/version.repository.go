package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"colladoc/internal/document/model"
	"colladoc/pkg/apperror"
	"colladoc/pkg/logger"

	"github.com/google/uuid"
)

var errVersionNotFound = apperror.NotFound("version not found")

// VersionRepository is the append-only version log. Rows are never updated;
// they disappear only through the cascade on document deletion.
type VersionRepository struct {
	DB *sql.DB
}

func NewVersionRepository(db *sql.DB) *VersionRepository {
	return &VersionRepository{DB: db}
}

// Append inserts a snapshot attributed to priorActorID and returns its id.
func (r *VersionRepository) Append(ctx context.Context, q Querier, docID, title string, content json.RawMessage, priorActorID string) (string, error) {
	versionID := uuid.NewString()
	_, err := q.ExecContext(ctx, `
		INSERT INTO document_versions (id, document_id, title, content, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		versionID, docID, title, []byte(content), priorActorID)
	if err != nil {
		logger.Sugar.Errorf("Failed to append version for doc %s: %v", docID, err)
		return "", apperror.Storage(err)
	}
	return versionID, nil
}

// List returns the document's versions newest first; ties on created_at keep
// insertion order through seq.
func (r *VersionRepository) List(ctx context.Context, docID string) ([]model.Version, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, document_id, title, content, created_by, created_at
		FROM document_versions
		WHERE document_id = $1
		ORDER BY created_at DESC, seq DESC`, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list versions for doc %s: %v", docID, err)
		return nil, apperror.Storage(err)
	}
	defer rows.Close()

	versions := make([]model.Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, apperror.Storage(err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Storage(err)
	}
	return versions, nil
}

// Get looks a version up by id within docID only, so a version id from
// another document is reported as not found.
func (r *VersionRepository) Get(ctx context.Context, q Querier, docID, versionID string) (model.Version, error) {
	v, err := scanVersion(q.QueryRowContext(ctx, `
		SELECT id, document_id, title, content, created_by, created_at
		FROM document_versions
		WHERE id = $1 AND document_id = $2`, versionID, docID))
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to get version %s: %v", versionID, err)
	}
	return v, classify(err, errVersionNotFound)
}

func scanVersion(row interface{ Scan(...any) error }) (model.Version, error) {
	var v model.Version
	var content []byte
	err := row.Scan(&v.ID, &v.DocumentID, &v.Title, &content, &v.CreatedBy, &v.CreatedAt)
	v.Content = json.RawMessage(content)
	return v, err
}
