package service

import (
	"context"
	"errors"
	"strings"

	"colladoc/internal/access"
	"colladoc/internal/document/model"
	"colladoc/pkg/apperror"

	"github.com/google/uuid"
)

// ListCollaborators returns the owner first, then every grant.
func (s *DocumentService) ListCollaborators(ctx context.Context, docID, actorID string) ([]model.CollaboratorInfo, error) {
	if _, _, err := s.authorize(ctx, docID, actorID, access.Read); err != nil {
		return nil, err
	}
	return s.Repo.GetDocumentMembers(ctx, docID)
}

// AddCollaborator grants the user registered under req.Email a role on the
// document. Only the owner may do this.
func (s *DocumentService) AddCollaborator(ctx context.Context, actorID string, req model.InviteRequest) (model.Collaborator, error) {
	doc, _, err := s.authorize(ctx, req.DocID, actorID, access.Manage)
	if err != nil {
		return model.Collaborator{}, err
	}
	role, ok := access.ParseGrant(req.Role)
	if !ok {
		return model.Collaborator{}, apperror.Invalid("role must be viewer or editor")
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return model.Collaborator{}, apperror.Invalid("email is required")
	}

	user, err := s.Repo.GetUserByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return model.Collaborator{}, apperror.NotFound("user not found with that email")
	}
	if err != nil {
		return model.Collaborator{}, err
	}
	if user.ID == doc.OwnerID {
		return model.Collaborator{}, apperror.Invalid("the owner cannot be added as a collaborator")
	}

	c := model.Collaborator{
		ID:         uuid.NewString(),
		DocumentID: req.DocID,
		UserID:     user.ID,
		Role:       role,
	}
	if err := s.Repo.AddCollaborator(ctx, c); err != nil {
		return model.Collaborator{}, err
	}
	return c, nil
}

// UpdateCollaboratorRole changes a grant. Live viewers of the affected user
// are disconnected so they reconnect with the new capability.
func (s *DocumentService) UpdateCollaboratorRole(ctx context.Context, actorID string, req model.RoleUpdateRequest) error {
	if _, _, err := s.authorize(ctx, req.DocID, actorID, access.Manage); err != nil {
		return err
	}
	role, ok := access.ParseGrant(req.Role)
	if !ok {
		return apperror.Invalid("role must be viewer or editor")
	}
	c, err := s.Repo.GetCollaborator(ctx, req.DocID, req.CollaboratorID)
	if err != nil {
		return err
	}
	if err := s.Repo.UpdateCollaboratorRole(ctx, req.DocID, req.CollaboratorID, role); err != nil {
		return err
	}
	s.Hub.EvictActor(req.DocID, c.UserID)
	return nil
}

// RemoveCollaborator revokes a grant and disconnects the user's live viewers.
func (s *DocumentService) RemoveCollaborator(ctx context.Context, docID, actorID, collaboratorID string) error {
	if _, _, err := s.authorize(ctx, docID, actorID, access.Manage); err != nil {
		return err
	}
	c, err := s.Repo.GetCollaborator(ctx, docID, collaboratorID)
	if err != nil {
		return err
	}
	if err := s.Repo.RemoveCollaborator(ctx, docID, collaboratorID); err != nil {
		return err
	}
	s.Hub.EvictActor(docID, c.UserID)
	return nil
}
