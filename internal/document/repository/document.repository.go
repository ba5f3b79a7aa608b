package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"colladoc/internal/access"
	"colladoc/internal/document/model"
	"colladoc/pkg/apperror"
	"colladoc/pkg/logger"
)

var errDocumentNotFound = apperror.NotFound("document not found")

type DocumentRepository struct {
	DB *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{DB: db}
}

func (r *DocumentRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		logger.Sugar.Errorf("Failed to begin transaction: %v", err)
		return nil, apperror.Storage(err)
	}
	return tx, nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO documents (id, title, content, owner_id, updated_by, revision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, 0, NOW(), NOW())
		RETURNING created_at, updated_at`,
		doc.ID, doc.Title, []byte(doc.Content), doc.OwnerID,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to create document: %v", err)
		return apperror.Storage(err)
	}
	doc.UpdatedBy = doc.OwnerID
	return nil
}

const documentColumns = `id, title, content, owner_id, updated_by, revision, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (model.Document, error) {
	var doc model.Document
	var content []byte
	err := row.Scan(&doc.ID, &doc.Title, &content, &doc.OwnerID, &doc.UpdatedBy, &doc.Revision, &doc.CreatedAt, &doc.UpdatedAt)
	doc.Content = json.RawMessage(content)
	return doc, err
}

func (r *DocumentRepository) Get(ctx context.Context, docID string) (model.Document, error) {
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, docID))
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to load doc %s: %v", docID, err)
	}
	return doc, classify(err, errDocumentNotFound)
}

// LockForUpdate loads the document row and holds its row lock until tx ends.
func (r *DocumentRepository) LockForUpdate(ctx context.Context, tx Querier, docID string) (model.Document, error) {
	doc, err := scanDocument(tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, docID))
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to lock doc %s: %v", docID, err)
	}
	return doc, classify(err, errDocumentNotFound)
}

// GetCollaboratorRole returns RoleNone when the actor has no grant on docID.
func (r *DocumentRepository) GetCollaboratorRole(ctx context.Context, q Querier, docID, userID string) (access.Role, error) {
	var role string
	err := q.QueryRowContext(ctx, "SELECT role FROM collaborators WHERE document_id = $1 AND user_id = $2", docID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return access.RoleNone, nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get collaborator role: %v", err)
		return access.RoleNone, apperror.Storage(err)
	}
	return access.Role(role), nil
}

// UpdateContent replaces title and content and bumps the revision.
func (r *DocumentRepository) UpdateContent(ctx context.Context, q Querier, docID, title string, content json.RawMessage, actorID string) (time.Time, int64, error) {
	var updatedAt time.Time
	var revision int64
	err := q.QueryRowContext(ctx, `
		UPDATE documents SET title = $1, content = $2, updated_by = $3, updated_at = NOW(), revision = revision + 1
		WHERE id = $4
		RETURNING updated_at, revision`,
		title, []byte(content), actorID, docID,
	).Scan(&updatedAt, &revision)
	if err != nil {
		logger.Sugar.Errorf("Failed to update content for doc %s: %v", docID, err)
	}
	return updatedAt, revision, classify(err, errDocumentNotFound)
}

func (r *DocumentRepository) Delete(ctx context.Context, docID string) error {
	result, err := r.DB.ExecContext(ctx, "DELETE FROM documents WHERE id = $1", docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete doc %s: %v", docID, err)
		return apperror.Storage(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) GetUserByEmail(ctx context.Context, email string) (model.Actor, error) {
	var actor model.Actor
	err := r.DB.QueryRowContext(ctx, "SELECT id, email, display_name FROM users WHERE email = $1", email).
		Scan(&actor.ID, &actor.Email, &actor.DisplayName)
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to get user by email: %v", err)
	}
	return actor, classify(err, apperror.NotFound("user not found"))
}

func (r *DocumentRepository) AddCollaborator(ctx context.Context, c model.Collaborator) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO collaborators (id, document_id, user_id, role) VALUES ($1, $2, $3, $4)`,
		c.ID, c.DocumentID, c.UserID, string(c.Role))
	if isUniqueViolation(err) {
		return apperror.Invalid("user is already a collaborator")
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to add collaborator %s to doc %s: %v", c.UserID, c.DocumentID, err)
		return apperror.Storage(err)
	}
	return nil
}

// GetCollaborator is scoped to docID; a row of another document is not found.
func (r *DocumentRepository) GetCollaborator(ctx context.Context, docID, collaboratorID string) (model.Collaborator, error) {
	var c model.Collaborator
	var role string
	err := r.DB.QueryRowContext(ctx, "SELECT id, document_id, user_id, role FROM collaborators WHERE id = $1 AND document_id = $2",
		collaboratorID, docID).Scan(&c.ID, &c.DocumentID, &c.UserID, &role)
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to get collaborator %s: %v", collaboratorID, err)
	}
	c.Role = access.Role(role)
	return c, classify(err, apperror.NotFound("collaborator not found"))
}

func (r *DocumentRepository) UpdateCollaboratorRole(ctx context.Context, docID, collaboratorID string, role access.Role) error {
	result, err := r.DB.ExecContext(ctx, "UPDATE collaborators SET role = $1 WHERE id = $2 AND document_id = $3",
		string(role), collaboratorID, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to update collaborator %s: %v", collaboratorID, err)
		return apperror.Storage(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("collaborator not found")
	}
	return nil
}

func (r *DocumentRepository) RemoveCollaborator(ctx context.Context, docID, collaboratorID string) error {
	result, err := r.DB.ExecContext(ctx, "DELETE FROM collaborators WHERE id = $1 AND document_id = $2", collaboratorID, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to remove collaborator %s: %v", collaboratorID, err)
		return apperror.Storage(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("collaborator not found")
	}
	return nil
}

// GetDocumentMembers lists the owner (virtual role "owner") followed by every grant.
func (r *DocumentRepository) GetDocumentMembers(ctx context.Context, docID string) ([]model.CollaboratorInfo, error) {
	query := `
		SELECT 'owner', d.owner_id, COALESCE(u.email, ''), COALESCE(u.display_name, ''), 'owner'
		FROM documents d LEFT JOIN users u ON d.owner_id = u.id WHERE d.id = $1
		UNION ALL
		SELECT c.id, c.user_id, COALESCE(u.email, ''), COALESCE(u.display_name, ''), c.role
		FROM collaborators c LEFT JOIN users u ON c.user_id = u.id WHERE c.document_id = $1
	`
	rows, err := r.DB.QueryContext(ctx, query, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to get document members for doc %s: %v", docID, err)
		return nil, apperror.Storage(err)
	}
	defer rows.Close()

	members := make([]model.CollaboratorInfo, 0)
	for rows.Next() {
		var c model.CollaboratorInfo
		var role string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Email, &c.Name, &role); err != nil {
			return nil, apperror.Storage(err)
		}
		c.Role = access.Role(role)
		members = append(members, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Storage(err)
	}
	return members, nil
}

// DocumentRow is one entry of a user's document list.
type DocumentRow struct {
	ID        string
	Title     string
	UpdatedAt time.Time
	Content   []byte
	OwnerID   string
	Role      access.Role
}

func (r *DocumentRepository) GetDocumentsByUser(ctx context.Context, userID string) ([]DocumentRow, error) {
	query := `
		SELECT id, title, updated_at, content, owner_id, 'owner' AS role FROM documents WHERE owner_id = $1
		UNION
		SELECT d.id, d.title, d.updated_at, d.content, d.owner_id, c.role FROM documents d JOIN collaborators c ON d.id = c.document_id WHERE c.user_id = $1
		ORDER BY updated_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to get documents for user %s: %v", userID, err)
		return nil, apperror.Storage(err)
	}
	defer rows.Close()

	docs := make([]DocumentRow, 0)
	for rows.Next() {
		var d DocumentRow
		var role string
		if err := rows.Scan(&d.ID, &d.Title, &d.UpdatedAt, &d.Content, &d.OwnerID, &role); err != nil {
			return nil, apperror.Storage(err)
		}
		d.Role = access.Role(role)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Storage(err)
	}
	return docs, nil
}
