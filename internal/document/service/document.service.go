package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"colladoc/internal/access"
	"colladoc/internal/document/model"
	"colladoc/internal/document/repository"
	"colladoc/pkg/apperror"
	"colladoc/pkg/logger"

	"github.com/google/uuid"
)

const defaultTitle = "Untitled Document"

// Broadcaster is the change propagation side of the hub.
type Broadcaster interface {
	Publish(ev model.CommitEvent)
	Notify(docID, skipActor, msgType string, payload any)
	CloseRoom(docID string)
	EvictActor(docID, actorID string)
}

type DocumentService struct {
	Repo     *repository.DocumentRepository
	Versions *repository.VersionRepository
	Comments *repository.CommentRepository
	Hub      Broadcaster
	locks    *docLocks
}

func NewDocumentService(repo *repository.DocumentRepository, versions *repository.VersionRepository, comments *repository.CommentRepository, hub Broadcaster) *DocumentService {
	return &DocumentService{
		Repo:     repo,
		Versions: versions,
		Comments: comments,
		Hub:      hub,
		locks:    newDocLocks(),
	}
}

// CreateDocument stores a new document owned by ownerID with the starter template.
func (s *DocumentService) CreateDocument(ctx context.Context, ownerID, title string) (model.Document, error) {
	if ownerID == "" {
		return model.Document{}, apperror.ErrUnauthenticated
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle
	}
	doc := model.Document{
		ID:      uuid.NewString(),
		Title:   title,
		Content: initialContent(title),
		OwnerID: ownerID,
	}
	if err := s.Repo.Create(ctx, &doc); err != nil {
		return model.Document{}, err
	}
	return doc, nil
}

// GetDocument returns the document if the actor may read it.
func (s *DocumentService) GetDocument(ctx context.Context, docID, actorID string) (model.DocumentView, error) {
	doc, role, err := s.authorize(ctx, docID, actorID, access.Read)
	if err != nil {
		return model.DocumentView{}, err
	}
	return model.DocumentView{Document: doc, Role: role}, nil
}

// OpenDocument is GetDocument for live viewers, which also need the capability.
func (s *DocumentService) OpenDocument(ctx context.Context, docID, actorID string) (model.Document, access.Capability, error) {
	doc, role, err := s.authorize(ctx, docID, actorID, access.Read)
	if err != nil {
		return model.Document{}, access.None, err
	}
	return doc, access.Evaluate(doc.OwnerID, actorID, role), nil
}

// CommitDocument replaces title and content after snapshotting the current
// state. An empty title keeps the current one.
func (s *DocumentService) CommitDocument(ctx context.Context, docID, actorID, title string, content json.RawMessage) (model.Document, error) {
	if len(content) == 0 || string(content) == "null" {
		return model.Document{}, apperror.Invalid("content cannot be empty")
	}
	return s.mutate(ctx, docID, actorID, func(_ context.Context, _ repository.Querier, cur model.Document) (string, json.RawMessage, error) {
		if strings.TrimSpace(title) == "" {
			return cur.Title, content, nil
		}
		return title, content, nil
	})
}

// RenameDocument is a commit that keeps the current content.
func (s *DocumentService) RenameDocument(ctx context.Context, docID, actorID, title string) (model.Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Document{}, apperror.Invalid("title cannot be empty")
	}
	return s.mutate(ctx, docID, actorID, func(_ context.Context, _ repository.Querier, cur model.Document) (string, json.RawMessage, error) {
		return title, cur.Content, nil
	})
}

// RestoreVersion commits the title and content of an earlier version. The
// state being replaced is snapshotted first, so restoring never loses history.
func (s *DocumentService) RestoreVersion(ctx context.Context, docID, actorID, versionID string) (model.Document, error) {
	return s.mutate(ctx, docID, actorID, func(ctx context.Context, q repository.Querier, _ model.Document) (string, json.RawMessage, error) {
		v, err := s.Versions.Get(ctx, q, docID, versionID)
		if err != nil {
			return "", nil, err
		}
		return v.Title, v.Content, nil
	})
}

type mutation func(ctx context.Context, q repository.Querier, cur model.Document) (string, json.RawMessage, error)

// mutate runs the snapshot-then-write protocol. Commits to one document are
// serialized by the in-process lock and by the row lock, the snapshot and the
// update share one transaction, and the event is published before the lock
// is released so events leave in commit order.
func (s *DocumentService) mutate(ctx context.Context, docID, actorID string, next mutation) (model.Document, error) {
	if actorID == "" {
		return model.Document{}, apperror.ErrUnauthenticated
	}
	unlock := s.locks.lock(docID)
	defer unlock()

	tx, err := s.Repo.BeginTx(ctx)
	if err != nil {
		return model.Document{}, err
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Sugar.Errorf("Failed to roll back commit on doc %s: %v", docID, err)
			}
		}
	}()

	cur, err := s.Repo.LockForUpdate(ctx, tx, docID)
	if err != nil {
		return model.Document{}, hideMissing(err)
	}
	grant, err := s.Repo.GetCollaboratorRole(ctx, tx, docID, actorID)
	if err != nil {
		return model.Document{}, err
	}
	if err := requireCapability(access.Evaluate(cur.OwnerID, actorID, grant), access.Write, "you do not have permission to edit this document"); err != nil {
		return model.Document{}, err
	}

	title, content, err := next(ctx, tx, cur)
	if err != nil {
		return model.Document{}, err
	}

	// The snapshot is attributed to whoever produced the state it preserves.
	if _, err := s.Versions.Append(ctx, tx, docID, cur.Title, cur.Content, cur.UpdatedBy); err != nil {
		return model.Document{}, err
	}
	updatedAt, revision, err := s.Repo.UpdateContent(ctx, tx, docID, title, content, actorID)
	if err != nil {
		return model.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		logger.Sugar.Errorf("Failed to commit doc %s: %v", docID, err)
		return model.Document{}, apperror.Storage(err)
	}
	committed = true

	doc := cur
	doc.Title = title
	doc.Content = content
	doc.UpdatedBy = actorID
	doc.UpdatedAt = updatedAt
	doc.Revision = revision

	s.Hub.Publish(model.CommitEvent{
		DocumentID: docID,
		Title:      title,
		Content:    content,
		ActorID:    actorID,
		Revision:   revision,
		UpdatedAt:  updatedAt,
	})
	logger.Sugar.Debugf("Committed doc %s revision %d by %s", docID, revision, actorID)
	return doc, nil
}

// ListVersions returns the version log newest first.
func (s *DocumentService) ListVersions(ctx context.Context, docID, actorID string) ([]model.Version, error) {
	if _, _, err := s.authorize(ctx, docID, actorID, access.Read); err != nil {
		return nil, err
	}
	return s.Versions.List(ctx, docID)
}

func (s *DocumentService) GetVersion(ctx context.Context, docID, actorID, versionID string) (model.Version, error) {
	if _, _, err := s.authorize(ctx, docID, actorID, access.Read); err != nil {
		return model.Version{}, err
	}
	return s.Versions.Get(ctx, s.Repo.DB, docID, versionID)
}

// DeleteDocument removes the document with its grants, versions and comments
// and disconnects its viewers.
func (s *DocumentService) DeleteDocument(ctx context.Context, docID, actorID string) error {
	if _, _, err := s.authorize(ctx, docID, actorID, access.Manage); err != nil {
		return err
	}
	unlock := s.locks.lock(docID)
	defer unlock()
	if err := s.Repo.Delete(ctx, docID); err != nil {
		return hideMissing(err)
	}
	s.Hub.CloseRoom(docID)
	return nil
}

// ListDocuments returns every document the user owns or collaborates on.
func (s *DocumentService) ListDocuments(ctx context.Context, userID string) ([]model.DocumentMetadata, error) {
	rows, err := s.Repo.GetDocumentsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	docs := make([]model.DocumentMetadata, 0, len(rows))
	for _, row := range rows {
		members, err := s.Repo.GetDocumentMembers(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		docs = append(docs, model.DocumentMetadata{
			ID:        row.ID,
			Title:     row.Title,
			UpdatedAt: row.UpdatedAt,
			Snippet:   getSnippetFromContent(row.Content),
			IsOwner:   row.OwnerID == userID,
			Role:      row.Role,
			Collab:    members,
		})
	}
	return docs, nil
}

// authorize loads the document and checks the actor's capability on it. A
// missing document and an actor without any access get the same error.
func (s *DocumentService) authorize(ctx context.Context, docID, actorID string, required access.Capability) (model.Document, access.Role, error) {
	if actorID == "" {
		return model.Document{}, access.RoleNone, apperror.ErrUnauthenticated
	}
	doc, err := s.Repo.Get(ctx, docID)
	if err != nil {
		return model.Document{}, access.RoleNone, hideMissing(err)
	}
	grant, err := s.Repo.GetCollaboratorRole(ctx, s.Repo.DB, docID, actorID)
	if err != nil {
		return model.Document{}, access.RoleNone, err
	}
	capability := access.Evaluate(doc.OwnerID, actorID, grant)
	if err := requireCapability(capability, required, deniedMessage(required)); err != nil {
		return model.Document{}, access.RoleNone, err
	}
	return doc, access.RoleOf(doc.OwnerID, actorID, grant), nil
}

// requireCapability rejects insufficient capability. Actors with no access at all get
// the generic error so they learn nothing about the document.
func requireCapability(have, want access.Capability, message string) error {
	if have.Allows(want) {
		return nil
	}
	if have == access.None {
		return apperror.ErrForbidden
	}
	return apperror.Forbidden(message)
}

func deniedMessage(required access.Capability) string {
	switch required {
	case access.Manage:
		return "only the owner can do this"
	case access.Write:
		return "you do not have permission to edit this document"
	default:
		return apperror.ErrForbidden.Message
	}
}

func hideMissing(err error) error {
	if errors.Is(err, apperror.ErrNotFound) {
		return apperror.ErrForbidden
	}
	return err
}
