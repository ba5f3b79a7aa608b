package service

import (
	"context"
	"strings"

	"colladoc/internal/access"
	"colladoc/internal/document/model"
	"colladoc/pkg/apperror"
	"colladoc/socket"
)

// AddComment requires Write; viewers can read comments but not add them.
func (s *DocumentService) AddComment(ctx context.Context, actorID string, req model.CommentRequest) (model.CommentResponse, error) {
	if _, _, err := s.authorize(ctx, req.DocID, actorID, access.Write); err != nil {
		return model.CommentResponse{}, err
	}
	if strings.TrimSpace(req.Content) == "" {
		return model.CommentResponse{}, apperror.Invalid("comment cannot be empty")
	}

	commentID, createdAt, err := s.Comments.AddComment(ctx, req.DocID, actorID, req.Content, req.Quote, req.TextRange)
	if err != nil {
		return model.CommentResponse{}, err
	}
	resp := model.CommentResponse{
		ID:             commentID,
		UserID:         actorID,
		CreatedAt:      createdAt,
		CommentRequest: req,
	}
	s.Hub.Notify(req.DocID, actorID, socket.CommentType, resp)
	return resp, nil
}

func (s *DocumentService) GetComments(ctx context.Context, docID, actorID string) ([]model.CommentResponse, error) {
	if _, _, err := s.authorize(ctx, docID, actorID, access.Read); err != nil {
		return nil, err
	}
	return s.Comments.GetComments(ctx, docID)
}

// ResolveComment toggles the resolved flag. Any writer may do it.
func (s *DocumentService) ResolveComment(ctx context.Context, commentID, actorID string) (bool, error) {
	c, _, err := s.commentFor(ctx, commentID, actorID, access.Write)
	if err != nil {
		return false, err
	}
	resolved, err := s.Comments.ToggleResolved(ctx, commentID)
	if err != nil {
		return false, err
	}
	s.Hub.Notify(c.DocID, actorID, socket.CommentUpdateType, map[string]any{"id": commentID, "resolved": resolved})
	return resolved, nil
}

// DeleteComment is allowed to the comment's author and the document owner.
func (s *DocumentService) DeleteComment(ctx context.Context, commentID, actorID string) error {
	c, doc, err := s.commentFor(ctx, commentID, actorID, access.Read)
	if err != nil {
		return err
	}
	if c.UserID != actorID && doc.OwnerID != actorID {
		return apperror.Forbidden("only the author or the owner can delete a comment")
	}
	if err := s.Comments.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	s.Hub.Notify(c.DocID, actorID, socket.CommentDeleteType, map[string]string{"id": commentID})
	return nil
}

// commentFor loads a comment and authorizes the actor on its document. An
// unknown comment is reported like an unreadable document.
func (s *DocumentService) commentFor(ctx context.Context, commentID, actorID string, required access.Capability) (model.CommentResponse, model.Document, error) {
	if actorID == "" {
		return model.CommentResponse{}, model.Document{}, apperror.ErrUnauthenticated
	}
	c, err := s.Comments.GetComment(ctx, commentID)
	if err != nil {
		return model.CommentResponse{}, model.Document{}, hideMissing(err)
	}
	doc, _, err := s.authorize(ctx, c.DocID, actorID, required)
	if err != nil {
		return model.CommentResponse{}, model.Document{}, err
	}
	return c, doc, nil
}
